package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/assessment"
	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/pricing"
	"github.com/BTreeMap/AssessPipe/internal/prompt"
	"github.com/spf13/cobra"
)

// newQuoteCmd creates the 'assesspipe quote' command
func newQuoteCmd(config Config) *cobra.Command {
	var (
		sel         pricing.Selection
		catalogPath string
		proposalDir string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a selection of phases and components",
		Long: `Price a selection against the pricing catalog and print the quote as JSON.
With --proposal-dir the proposal document is also written as HTML.`,
		Example: `  assesspipe quote --phases 1 --components rag-memory
  assesspipe quote --phases 1,2 --proposal-dir ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openCatalog(catalogPath)
			if err != nil {
				return err
			}
			q, err := catalog.Quote(sel)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(q, "", "  ")
			if err != nil {
				return fmt.Errorf("encode quote: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if proposalDir == "" {
				return nil
			}
			now := time.Now()
			doc, err := pricing.RenderProposal(q, now)
			if err != nil {
				return err
			}
			path := filepath.Join(proposalDir, pricing.ProposalFilename(q.Brand, now))
			if err := os.WriteFile(path, doc, 0644); err != nil {
				return fmt.Errorf("write proposal: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Proposal written to %s\n", path)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntSliceVar(&sel.Phases, "phases", nil, "phase numbers to include")
	f.StringSliceVar(&sel.Components, "components", nil, "component ids to include")
	f.StringVar(&catalogPath, "catalog", config.PricingCatalog, "pricing catalog YAML file (overrides $PRICING_CATALOG)")
	f.StringVar(&proposalDir, "proposal-dir", "", "directory to write the HTML proposal into")
	return cmd
}

func openCatalog(path string) (*pricing.Catalog, error) {
	if path == "" {
		return pricing.DefaultCatalog()
	}
	return pricing.LoadCatalog(path)
}

// newPromptCmd creates the 'assesspipe prompt' command
func newPromptCmd(config Config) *cobra.Command {
	var (
		profileName string
		promptDir   string
		method      string
		mode        string
		model       string
		user        models.UserInfo
		list        bool
	)
	cmd := &cobra.Command{
		Use:   "prompt [template]",
		Short: "Render an assessment system prompt",
		Long: `Render the system prompt a profile would send for a method and interaction mode.
Pass a template name to render it directly, or --list to show all templates.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []prompt.Option
			if promptDir != "" {
				opts = append(opts, prompt.WithOverrideDir(promptDir))
			}
			table, err := prompt.New(opts...)
			if err != nil {
				return err
			}
			output := cmd.OutOrStdout()

			if list {
				for _, name := range table.Names() {
					fmt.Fprintln(output, name)
				}
				return nil
			}

			im := models.InteractionMode(mode)
			if !im.IsValid() {
				return fmt.Errorf("invalid interaction mode %q", mode)
			}

			name := ""
			if len(args) == 1 {
				name = args[0]
			} else {
				profile, err := assessment.LookupProfile(profileName)
				if err != nil {
					return err
				}
				_, m := profile.ResolveMethod(method)
				name = m.Template
			}

			data := prompt.NewData(user, im).WithModel(assessment.ResolveModel(model))
			text, err := table.Render(name, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(output, text)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&profileName, "profile", config.Profile, "application profile (overrides $APP_PROFILE)")
	f.StringVar(&promptDir, "prompt-dir", config.PromptDir, "directory of prompt template overrides (overrides $PROMPT_DIR)")
	f.StringVar(&method, "method", assessment.DefaultMethod, "assessment method key")
	f.StringVar(&mode, "mode", string(models.InteractionModeButtons), "interaction mode: buttons or conversation")
	f.StringVar(&model, "model", "", "model alias")
	f.StringVar(&user.Name, "name", "", "user name")
	f.StringVar(&user.Domain, "domain", "", "user field of expertise")
	f.StringVar(&user.History, "history", "", "user background")
	f.BoolVar(&list, "list", false, "list template names")
	return cmd
}
