package keys

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"perpexecutor/src/database"
	"perpexecutor/src/model"
	"perpexecutor/src/repository"
	"perpexecutor/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                                   Show this help message")
	fmt.Println("  shutdown                               Exit the CLI")
	fmt.Println("  set_key <agentID> <apiKey> <apiSecret> Store exchange keys for an agent (encrypted)")
	fmt.Println("  run_on <agentID>                       Activate the agent")
	fmt.Println("  run_off <agentID>                      Deactivate the agent")
	fmt.Println()
}

// CLI is the operator console for agent credentials. Keys are read
// from stdin, encrypted immediately, and never echoed or logged.
type CLI struct{}

func (c *CLI) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	agentRepo := repository.NewAgentRepository()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return nil
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, " ")
		cmd := parts[0]

		switch cmd {

		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "set_key":
			if len(parts) < 4 {
				printUsage()
				continue
			}
			agentID, err := parseAgentID(parts[1])
			if err != nil {
				fmt.Println(err)
				continue
			}

			encKey, err := security.EncryptString(parts[2])
			if err != nil {
				fmt.Println("failed to encrypt key:", err)
				continue
			}
			encSecret, err := security.EncryptString(parts[3])
			if err != nil {
				fmt.Println("failed to encrypt secret:", err)
				continue
			}

			err = agentRepo.UpsertCredential(ctx, &model.AgentCredential{
				AgentID:       agentID,
				APIKeyHash:    encKey,
				APISecretHash: encSecret,
			})
			if err != nil {
				fmt.Println("failed to store credential:", err)
				continue
			}
			fmt.Printf("credential stored for agent %d\n", agentID)

		case "run_on", "run_off":
			if len(parts) < 2 {
				printUsage()
				continue
			}
			agentID, err := parseAgentID(parts[1])
			if err != nil {
				fmt.Println(err)
				continue
			}

			agent, err := agentRepo.FindByID(ctx, agentID)
			if err != nil {
				fmt.Println("failed to load agent:", err)
				continue
			}
			if agent == nil {
				fmt.Printf("agent %d not found\n", agentID)
				continue
			}

			agent.Active = cmd == "run_on"
			if err := agentRepo.Update(ctx, agent); err != nil {
				fmt.Println("failed to update agent:", err)
				continue
			}
			fmt.Printf("agent %d active=%v\n", agentID, agent.Active)

		default:
			printUsage()
		}
	}
}

func parseAgentID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid agent ID %q", raw)
	}
	return uint(id), nil
}
