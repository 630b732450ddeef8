package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"forge/api/internal/versioning"
)

func definitionCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Inspect version definitions",
	}
	var appID, versionID string
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the definition of a version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			definition, err := g.client().GetVersionDefinition(cmd.Context(), appID, versionID)
			if err != nil {
				return err
			}
			return printDefinition(cmd.OutOrStdout(), g.output(), definition)
		},
	}
	get.Flags().StringVar(&appID, "app", "", "App id")
	get.Flags().StringVar(&versionID, "version", "", "Version id")
	_ = get.MarkFlagRequired("app")
	_ = get.MarkFlagRequired("version")
	cmd.AddCommand(get)
	return cmd
}

func printDefinition(w io.Writer, format string, definition versioning.Definition) error {
	var body any
	if len(definition.Definition) > 0 {
		if err := json.Unmarshal(definition.Definition, &body); err != nil {
			return fmt.Errorf("decode definition: %w", err)
		}
	}

	if format == outputYAML {
		return writeYAML(w, map[string]any{
			"appId":       definition.AppID,
			"versionId":   definition.VersionID,
			"versionName": definition.VersionName,
			"commitHash":  definition.CommitHash,
			"definition":  body,
		})
	}

	pretty, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	_, err = fmt.Fprint(w, keyValues(
		[2]string{"Version", definition.VersionName + " " + muted("("+definition.VersionID+")")},
		[2]string{"App", definition.AppID},
		[2]string{"Commit", orDash(definition.CommitHash)},
	))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(pretty))
	return err
}
