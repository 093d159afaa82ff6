package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"procgate/internal/engine"
	"procgate/internal/instrument"
)

var (
	callClient string
	callParams string
)

var callCmd = &cobra.Command{
	Use:   "call <function>",
	Short: "Execute one function as a client",
	Long: `Execute one function through the full gateway path (authorization,
validation, retries, transformation) and print the response envelope.`,
	Example: `  procgate call user.query --client web --params '{"user_id": 123}'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return runCall(ctx, args[0])
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&callClient, "client", "", "client id to call as")
	f.StringVar(&callParams, "params", "{}", "parameters as a JSON object")
	_ = callCmd.MarkFlagRequired("client")
}

func runCall(ctx context.Context, functionID string) error {
	params := map[string]any{}
	if err := json.Unmarshal([]byte(callParams), &params); err != nil {
		return fmt.Errorf("--params must be a JSON object: %w", err)
	}

	logger := newLogger(cfg)
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx = instrument.WithInstrumenter(ctx, rt.instrumenter)

	meta := engine.Meta{RequestID: uuid.NewString(), Function: functionID}
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	client, ok := rt.registry.Snapshot().Client(callClient)
	if !ok {
		_, body := rt.formatter.Error(engine.UnauthenticatedError("Unknown client"), meta)
		_ = out.Encode(body)
		return fmt.Errorf("unknown client %q", callClient)
	}

	res, err := rt.gateway.Call(ctx, client, functionID, params)
	if err != nil {
		status, body := rt.formatter.Error(err, meta)
		_ = out.Encode(body)
		return fmt.Errorf("call %s failed with status %d", functionID, status)
	}
	meta.ConfigVersion = res.ConfigVersion
	return out.Encode(rt.formatter.Success(res.Data, res.ExecutionTime, meta))
}
