package klines

import (
	"context"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/model"
	"perpexecutor/src/repository"
)

// Backfill pulls one-minute candles into the klines_1m table. The
// candles serve as the audit trail when a trade was closed against a
// mark price instead of a fill.
type Backfill struct {
	Log      *logger.Entry
	Config   *Config
	Repo     *repository.KlineRepository
	exchange goex.API
}

func (b *Backfill) Start() error {
	b.Config = GetConfig()
	if b.Repo == nil {
		b.Repo = repository.NewKlineRepository()
	}

	b.exchange = newBinanceInstance()

	if b.Config.AutoMode {
		if err := b.determineStartPoint(); err != nil {
			return err
		}
	}

	return b.fetchAndSave()
}

func newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

// determineStartPoint resumes from the last stored candle so repeated
// runs only fetch the missing tail.
func (b *Backfill) determineStartPoint() error {
	b.Config.EndDt = time.Now()

	latest, err := b.Repo.LatestDatetime(context.Background(), b.symbolKey())
	if err != nil {
		return err
	}

	if latest != nil {
		b.Config.StartDt = latest.Add(-time.Minute)
		b.Log.
			WithField("StartDt", b.Config.StartDt.String()).
			WithField("EndDt", b.Config.EndDt.String()).
			Info("determineStartPoint resuming from stored candles")
	} else {
		b.Log.
			WithField("StartDt", b.Config.StartDt.String()).
			WithField("EndDt", b.Config.EndDt.String()).
			Info("determineStartPoint no stored candles, starting from configured date")
	}

	return nil
}

func (b *Backfill) fetchAndSave() error {
	targetSymbol := goex.NewCurrencyPair(
		goex.Currency{Symbol: b.Config.Symbol},
		goex.Currency{Symbol: b.Config.Quote},
	)

	const millis = 1000
	series, err := b.exchange.GetKlineRecords(
		targetSymbol,
		goex.KLINE_PERIOD_1MIN,
		b.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", b.Config.StartDt.Unix()*millis).
			Optional("endTime", b.Config.EndDt.Unix()*millis),
	)
	if err != nil {
		return err
	}

	batch := make([]model.Kline1m, 0, len(series))
	for i := range series {
		k := series[i]
		batch = append(batch, model.Kline1m{
			Symbol:   b.symbolKey(),
			Datetime: time.Unix(k.Timestamp, 0).UTC(),
			Open:     decimal.NewFromFloat(k.Open),
			High:     decimal.NewFromFloat(k.High),
			Low:      decimal.NewFromFloat(k.Low),
			Close:    decimal.NewFromFloat(k.Close),
			Volume:   decimal.NewFromFloat(k.Vol),
		})
	}

	if err := b.Repo.UpsertBatch(context.Background(), batch); err != nil {
		return err
	}

	b.Log.WithFields(logger.Fields{
		"Symbol": b.symbolKey(),
		"count":  len(batch),
	}).Info("Kline backfill batch stored")

	return nil
}

func (b *Backfill) symbolKey() string {
	return b.Config.Symbol + b.Config.Quote
}
