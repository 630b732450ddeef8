package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forge/api/internal/client"
	"forge/api/internal/tracing"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	v *viper.Viper

	tracer *tracing.Provider
}

func (g *globals) apiURL() string   { return strings.TrimSpace(g.v.GetString("api-url")) }
func (g *globals) token() string    { return strings.TrimSpace(g.v.GetString("token")) }
func (g *globals) actor() string    { return strings.TrimSpace(g.v.GetString("actor")) }
func (g *globals) output() string   { return strings.ToLower(strings.TrimSpace(g.v.GetString("output"))) }
func (g *globals) logLevel() string { return g.v.GetString("log-level") }

func (g *globals) client() *client.Client {
	return client.New(g.apiURL(), g.token(), nil).WithActor(g.actor())
}

func newRootCmd() *cobra.Command {
	g := &globals{v: viper.New()}

	root := &cobra.Command{
		Use:           "versionctl",
		Short:         "Create and inspect app versions",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := configureLogging(cmd.ErrOrStderr(), g.logLevel()); err != nil {
				return err
			}
			switch g.output() {
			case outputText, outputYAML:
			default:
				return fmt.Errorf("unknown output format %q", g.output())
			}
			if g.apiURL() == "" {
				return fmt.Errorf("api url is required (--api-url or FORGE_API_URL)")
			}
			provider, err := tracing.NewProvider(cmd.Context(), tracing.Config{
				Exporter:     g.v.GetString("trace"),
				OTLPEndpoint: g.v.GetString("otlp-endpoint"),
				ServiceName:  "versionctl",
			})
			if err != nil {
				return err
			}
			g.tracer = provider
			slog.Debug("versionctl configured", "api_url", g.apiURL(), "actor", g.actor())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if g.tracer == nil {
				return nil
			}
			return g.tracer.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	flags := root.PersistentFlags()
	flags.String("api-url", "http://localhost:8787", "Forge API base URL")
	flags.String("token", "", "API bearer token")
	flags.String("actor", "", "Name recorded as the author of changes")
	flags.StringP("output", "o", outputText, "Output format: text or yaml")
	flags.String("log-level", "warn", "Log level: debug, info, warn, error")
	flags.String("trace", tracing.ExporterNone, "Trace exporter: none, stdout, otlp")
	flags.String("otlp-endpoint", "localhost:4317", "OTLP collector endpoint")

	g.v.SetEnvPrefix("FORGE")
	g.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	g.v.AutomaticEnv()
	_ = g.v.BindEnv("token", "FORGE_API_TOKEN", "FORGE_TOKEN")
	_ = g.v.BindPFlags(flags)

	root.AddCommand(versionsCmd(g))
	root.AddCommand(definitionCmd(g))
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorMsg("%v", err))
		os.Exit(1)
	}
}
