// Command sessionctl is a thin client-side entrypoint that exercises the
// session engine end to end: create an escrowed session on-chain, open
// the encrypted WebSocket session with the host, stream one prompt to
// completion, then close. Useful for manual operator testing and as a
// runnable example of the session core's full happy path.
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
	"github.com/fabricmesh/inference-session-core/internal/config"
	"github.com/fabricmesh/inference-session-core/internal/identity"
	"github.com/fabricmesh/inference-session-core/internal/payment"
	"github.com/fabricmesh/inference-session-core/internal/session"
)

const Version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runHappyPath(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "sessionctl: "+err.Error())
			os.Exit(1)
		}
	case "version":
		fmt.Printf("sessionctl v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: sessionctl <command>")
	fmt.Println("Commands:")
	fmt.Println("  run      Create a session, stream one prompt, and close")
	fmt.Println("  version  Print the sessionctl version")
	fmt.Println("  help     Show this message")
}

func runHappyPath(parent context.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("sessionctl: build logger: %w", err)
	}
	sugared := log.Sugar()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	privHex := os.Getenv("SESSIONCTL_PRIVATE_KEY")
	if privHex == "" {
		return fmt.Errorf("sessionctl: SESSIONCTL_PRIVATE_KEY is required")
	}
	priv, err := crypto.HexToECDSA(trimHexPrefix(privHex))
	if err != nil {
		return fmt.Errorf("sessionctl: parse SESSIONCTL_PRIVATE_KEY: %w", err)
	}
	signer := identity.NewLocalSigner(priv)

	chainConfigPath := envOr("SESSIONCTL_CHAIN_CONFIG", "chains.yaml")
	chainCfgs, err := config.LoadChainConfigs(chainConfigPath)
	if err != nil {
		return fmt.Errorf("sessionctl: load chain config: %w", err)
	}
	if len(chainCfgs) == 0 {
		return fmt.Errorf("sessionctl: no chains configured")
	}
	chainCfg := chainCfgs[0]

	rpcClient, err := rpcpool.NewHTTPClient(int64(chainCfg.ChainID), chainCfg.RPCEndpoints, 15*time.Second, sugared)
	if err != nil {
		return fmt.Errorf("sessionctl: build rpc client: %w", err)
	}
	chainClient := evm.NewClient(chainCfg, rpcClient, signer, sugared)
	paymentMgr := payment.NewManager(chainClient, sugared)

	hostHex := os.Getenv("SESSIONCTL_HOST_ADDRESS")
	hostAPIURL := os.Getenv("SESSIONCTL_HOST_API_URL")
	if hostHex == "" || hostAPIURL == "" {
		return fmt.Errorf("sessionctl: SESSIONCTL_HOST_ADDRESS and SESSIONCTL_HOST_API_URL are required")
	}
	host := common.HexToAddress(hostHex)

	depositAmount, err := parseBigInt(envOr("SESSIONCTL_DEPOSIT", "1000000000000000000"))
	if err != nil {
		return fmt.Errorf("sessionctl: parse SESSIONCTL_DEPOSIT: %w", err)
	}
	priceAmount, err := parseBigInt(envOr("SESSIONCTL_PRICE_PER_TOKEN", "1000000000"))
	if err != nil {
		return fmt.Errorf("sessionctl: parse SESSIONCTL_PRICE_PER_TOKEN: %w", err)
	}
	maxDuration := envInt64("SESSIONCTL_MAX_DURATION_SEC", 3600)
	proofInterval := envInt64("SESSIONCTL_PROOF_INTERVAL_SEC", 60)

	sessionID, err := paymentMgr.CreateDirectSession(ctx, host, chainCfg.StablecoinAddr, depositAmount, priceAmount, maxDuration, proofInterval, chain.GasNormal)
	if err != nil {
		return fmt.Errorf("sessionctl: create session: %w", err)
	}
	sugared.Infow("sessionctl: session created", "sessionId", sessionID, "host", hostHex)

	transport, err := session.DialSession(ctx, hostAPIURL)
	if err != nil {
		return fmt.Errorf("sessionctl: dial session: %w", err)
	}

	tokens := make(chan string, 64)
	done := make(chan struct{})
	engine := session.NewEngine(sessionID, transport, priv, session.Callbacks{
		OnChunk: func(c session.StreamChunkPayload) { tokens <- c.Token },
		OnStreamEnd: func(session.StreamEndPayload) {
			close(done)
		},
	}, sugared)

	if err := engine.MarkEscrowPosted(); err != nil {
		return fmt.Errorf("sessionctl: mark escrow posted: %w", err)
	}
	if err := engine.MarkHostClaimed(); err != nil {
		return fmt.Errorf("sessionctl: mark host claimed: %w", err)
	}
	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("sessionctl: connect: %w", err)
	}

	go func() {
		if err := engine.Run(ctx); err != nil {
			sugared.Warnw("sessionctl: session run ended", "error", err)
		}
	}()

	prompt := envOr("SESSIONCTL_PROMPT", "Say hello in one short sentence.")
	if err := engine.SendPrompt(ctx, prompt, nil); err != nil {
		return fmt.Errorf("sessionctl: send prompt: %w", err)
	}

	fmt.Print("response: ")
	for {
		select {
		case token := <-tokens:
			fmt.Print(token)
		case <-done:
			fmt.Println()
			return engine.Close(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer: %q", s)
	}
	return n, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
