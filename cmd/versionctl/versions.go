package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"forge/api/internal/pubsub"
	"forge/api/internal/versioning"
)

func versionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "versions",
		Aliases: []string{"version"},
		Short:   "List and create app versions",
	}
	cmd.AddCommand(versionsListCmd(g))
	cmd.AddCommand(versionsCreateCmd(g))
	return cmd
}

func versionsListCmd(g *globals) *cobra.Command {
	var appID, env string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List versions promoted to an environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := g.client()
			envID, err := api.ResolveEnvironment(cmd.Context(), appID, env)
			if err != nil {
				return err
			}
			versions, err := api.ListPromotedVersions(cmd.Context(), appID, envID)
			if err != nil {
				return err
			}
			return printVersions(cmd.OutOrStdout(), g.output(), versions)
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "App id")
	cmd.Flags().StringVar(&env, "env", "", "Environment name or id (default: the first environment)")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

type createOptions struct {
	appID   string
	env     string
	name    string
	from    string
	editing string
	timeout time.Duration
}

func versionsCreateCmd(g *globals) *cobra.Command {
	var opts createOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a version from an existing one",
		Long: "Create a named version forked from an existing version of the app.\n" +
			"The source defaults to the --editing version when --from is not given.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), g, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.appID, "app", "", "App id")
	flags.StringVar(&opts.env, "env", "", "Environment whose versions may be forked (default: the first environment)")
	flags.StringVar(&opts.name, "name", "", "Name of the new version")
	flags.StringVar(&opts.from, "from", "", "Id of the version to create from")
	flags.StringVar(&opts.editing, "editing", "", "Id of the version currently open in the editor")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "How long to wait for the version and its definition")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func runCreate(ctx context.Context, stdout, stderr io.Writer, g *globals, opts createOptions) error {
	api := g.client()

	envID, err := api.ResolveEnvironment(ctx, opts.appID, opts.env)
	if err != nil {
		return err
	}
	versions, err := api.ListPromotedVersions(ctx, opts.appID, envID)
	if err != nil {
		return err
	}

	events := pubsub.NewBroker[versioning.Event]()
	defer events.Close()
	subCtx, stopEvents := context.WithCancel(ctx)
	subscription := events.Subscribe(subCtx)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for event := range subscription {
			renderEvent(stderr, event.Payload)
		}
	}()

	var ready *versioning.Definition
	controller := versioning.NewController(versioning.ControllerConfig{
		AppID:             opts.appID,
		EditingVersionID:  opts.editing,
		Options:           versioning.OptionsFrom(versions),
		Registry:          api,
		Loader:            api,
		OnDefinitionReady: func(definition versioning.Definition) { ready = &definition },
		OnStateChange: func(from, to versioning.State) {
			slog.Debug("version creation state", "from", from, "to", to)
		},
		Events: events,
		Tracer: g.tracer.Tracer(),
	})

	if opts.from != "" {
		if err := controller.Select(opts.from); err != nil {
			stopEvents()
			<-rendered
			return fmt.Errorf("%w: %s", err, opts.from)
		}
	}
	if err := controller.SetName(opts.name); err != nil {
		stopEvents()
		<-rendered
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	createErr := controller.CreateVersion(waitCtx)
	if createErr == nil {
		createErr = controller.Wait(waitCtx)
	}
	stopEvents()
	<-rendered

	if createErr != nil {
		return createErr
	}
	if err := controller.LastError(); err != nil {
		var loadErr *versioning.DefinitionLoadError
		if errors.As(err, &loadErr) {
			fmt.Fprintln(stderr, warnMsg("version %s was created but its definition could not be loaded", loadErr.VersionID))
		}
		return err
	}
	if ready == nil {
		return errors.New("version creation finished without a definition")
	}
	return printDefinition(stdout, g.output(), *ready)
}

func renderEvent(w io.Writer, event versioning.Event) {
	switch event.Type {
	case versioning.EventCreated:
		if event.Version != nil {
			fmt.Fprintln(w, successMsg("created version %s (%s)", event.Version.Name, event.Version.ID))
		}
	case versioning.EventDefinitionReady:
		fmt.Fprintln(w, infoMsg("definition loaded"))
	case versioning.EventCreationFailed, versioning.EventDefinitionLoadFailed, versioning.EventValidationFailed:
		slog.Info("version creation failed", "event", event.Type, "err", event.Err)
	}
}

func printVersions(w io.Writer, format string, versions []versioning.Version) error {
	if format == outputYAML {
		return writeYAML(w, map[string]any{"versions": versions})
	}
	if len(versions) == 0 {
		_, err := fmt.Fprintln(w, muted("no versions promoted to this environment"))
		return err
	}
	rows := make([][]string, 0, len(versions))
	for _, version := range versions {
		source := "-"
		if version.SourceVersionID != nil {
			source = *version.SourceVersionID
		}
		created := "-"
		if !version.CreatedAt.IsZero() {
			created = version.CreatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{version.ID, version.Name, source, orDash(version.CreatedBy), created})
	}
	_, err := fmt.Fprintln(w, renderTable([]string{"ID", "Name", "From", "Created by", "Created"}, rows))
	return err
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
