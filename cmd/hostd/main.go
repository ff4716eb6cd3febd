// Command hostd is the host-operator entrypoint: it wires chain config,
// the operator's signing identity, the EVM chain client, the payment
// manager, and the host supervisor together, then runs the supervised
// inference subprocess until interrupted.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/chain/evm"
	"github.com/fabricmesh/inference-session-core/internal/chain/rpcpool"
	"github.com/fabricmesh/inference-session-core/internal/cli"
	"github.com/fabricmesh/inference-session-core/internal/config"
	"github.com/fabricmesh/inference-session-core/internal/identity"
	"github.com/fabricmesh/inference-session-core/internal/payment"
	"github.com/fabricmesh/inference-session-core/internal/supervisor"
)

const Version = "0.1.0"

func main() {
	// godotenv.Load is a no-op error when no .env file is present; host
	// operators keep their signing key and RPC credentials out of the
	// YAML config and source this file for local runs (§4.9/§6.5).
	_ = godotenv.Load()

	mode := cli.DetectMode()
	if mode == cli.ModeDashboard {
		handleDashboardMode()
		return
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runSupervisor(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "hostd: "+err.Error())
			os.Exit(1)
		}
	case "earnings":
		if err := printEarnings(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "hostd: "+err.Error())
			os.Exit(1)
		}
	case "version":
		fmt.Printf("hostd v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: hostd <command>")
	fmt.Println("Commands:")
	fmt.Println("  run       Start the supervised inference subprocess")
	fmt.Println("  earnings  Print this host's current on-chain earnings")
	fmt.Println("  version   Print the hostd version")
	fmt.Println("  help      Show this message")
}

// handleDashboardMode drives the same command set from HOSTD_COMMAND,
// emitting JSON to stdout and logs to stderr (§6.5's exit-code contract).
func handleDashboardMode() {
	cli.WriteLog(fmt.Sprintf("hostd v%s - dashboard mode", Version))

	command := os.Getenv("HOSTD_COMMAND")
	switch command {
	case "earnings":
		balance, err := earningsBalance(context.Background())
		if err != nil {
			cli.WriteJSON(map[string]interface{}{"success": false, "error": err.Error()})
			os.Exit(1)
		}
		cli.WriteJSON(map[string]interface{}{"success": true, "earnings": balance.String()})
	case "version":
		cli.WriteJSON(map[string]interface{}{"success": true, "version": Version})
	default:
		cli.WriteJSON(map[string]interface{}{"success": false, "error": fmt.Sprintf("unknown HOSTD_COMMAND: %q", command)})
		os.Exit(1)
	}
}

type deployment struct {
	chainClient *evm.Client
	chainCfg    chain.ChainConfig
	signer      *identity.LocalSigner
	log         *zap.SugaredLogger
}

// buildDeployment reads the operator's environment and config files and
// assembles the chain client + signing identity every command needs.
func buildDeployment(ctx context.Context) (*deployment, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("hostd: build logger: %w", err)
	}
	sugared := log.Sugar()

	chainConfigPath := envOr("HOSTD_CHAIN_CONFIG", "chains.yaml")
	chainCfgs, err := config.LoadChainConfigs(chainConfigPath)
	if err != nil {
		return nil, fmt.Errorf("hostd: load chain config: %w", err)
	}

	chainIDStr := envOr("HOSTD_CHAIN_ID", "")
	chainCfg, err := selectChainConfig(chainCfgs, chainIDStr)
	if err != nil {
		return nil, err
	}

	privHex := os.Getenv("HOSTD_PRIVATE_KEY")
	if privHex == "" {
		return nil, fmt.Errorf("hostd: HOSTD_PRIVATE_KEY is required")
	}
	priv, err := crypto.HexToECDSA(trimHexPrefix(privHex))
	if err != nil {
		return nil, fmt.Errorf("hostd: parse HOSTD_PRIVATE_KEY: %w", err)
	}
	signer := identity.NewLocalSigner(priv)

	rpcClient, err := rpcpool.NewHTTPClient(int64(chainCfg.ChainID), chainCfg.RPCEndpoints, 15*time.Second, sugared)
	if err != nil {
		return nil, fmt.Errorf("hostd: build rpc client: %w", err)
	}
	chainClient := evm.NewClient(chainCfg, rpcClient, signer, sugared)

	return &deployment{chainClient: chainClient, chainCfg: chainCfg, signer: signer, log: sugared}, nil
}

func runSupervisor(ctx context.Context) error {
	dep, err := buildDeployment(ctx)
	if err != nil {
		return err
	}

	operatorConfigPath := envOr("HOSTD_OPERATOR_CONFIG", "operator.yaml")
	operatorCfg, err := config.LoadHostOperatorConfig(operatorConfigPath)
	if err != nil {
		return fmt.Errorf("hostd: load operator config: %w", err)
	}

	paymentMgr := payment.NewManager(dep.chainClient, dep.log)
	policy := supervisor.DefaultRestartPolicy(supervisor.RestartAlways)

	sup, err := supervisor.New(operatorCfg, policy, paymentMgr, chain.GasNormal, dep.log)
	if err != nil {
		return fmt.Errorf("hostd: build supervisor: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dep.log.Infow("hostd: starting supervised inference subprocess", "chainId", dep.chainCfg.ChainID)
	runErr := sup.Run(runCtx)
	if shutdownErr := sup.Shutdown(); shutdownErr != nil {
		dep.log.Warnw("hostd: shutdown error", "error", shutdownErr)
	}
	if runCtx.Err() != nil {
		return nil
	}
	return runErr
}

func printEarnings(ctx context.Context) error {
	balance, err := earningsBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Println(balance.String())
	return nil
}

func earningsBalance(ctx context.Context) (*big.Int, error) {
	dep, err := buildDeployment(ctx)
	if err != nil {
		return nil, err
	}
	tokenHex := envOr("HOSTD_EARNINGS_TOKEN", "")
	if tokenHex == "" {
		return nil, fmt.Errorf("hostd: HOSTD_EARNINGS_TOKEN is required")
	}
	token := common.HexToAddress(tokenHex)
	return dep.chainClient.GetHostEarnings(ctx, dep.signer.Address(), token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func selectChainConfig(cfgs []chain.ChainConfig, chainIDStr string) (chain.ChainConfig, error) {
	if len(cfgs) == 0 {
		return chain.ChainConfig{}, fmt.Errorf("hostd: no chains configured")
	}
	if chainIDStr == "" {
		return cfgs[0], nil
	}
	wanted, err := strconv.ParseInt(chainIDStr, 10, 64)
	if err != nil {
		return chain.ChainConfig{}, fmt.Errorf("hostd: invalid HOSTD_CHAIN_ID: %w", err)
	}
	for _, c := range cfgs {
		if int64(c.ChainID) == wanted {
			return c, nil
		}
	}
	return chain.ChainConfig{}, fmt.Errorf("hostd: no configured chain with id %d", wanted)
}
