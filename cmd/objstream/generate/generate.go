// Package generatecmder provides the generate command for one-shot object
// generation from the command line.
package generatecmder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/objstreamhq/objstream/pkg/assemble"
	"github.com/objstreamhq/objstream/pkg/config"
	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/logger"
	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider"
	"github.com/objstreamhq/objstream/pkg/schema"
)

type GenerateCommander struct {
	provider   string
	upstream   string
	apiKey     string
	model      string
	schemaPath string
	system     string
	logFile    string

	cfg *config.Config
	log *slog.Logger
}

const generateLongDesc string = `Generate one schema-validated object from a prompt.

Deltas stream to stderr as the model produces them; the final object is
printed to stdout as JSON. A failed generation exits non-zero and reports
what went wrong (malformed JSON, schema violation, or a cut-off stream).`

const generateShortDesc string = "Generate one object from the command line"

var generateFlags = []string{
	config.FlagProvider,
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagModel,
}

func NewGenerateCmd() *cobra.Command {
	cmder := &GenerateCommander{}

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: generateShortDesc,
		Long:  generateLongDesc,
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %w", err)
			}

			v, err := config.InitViper(configFile)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, generateFlags)

			cmder.cfg, err = config.FromViper(v)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd, strings.Join(args, " "), debug)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	cmd.Flags().StringVarP(&cmder.schemaPath, "schema", "s", "", "Path to a JSON Schema file the object must satisfy")
	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *GenerateCommander) run(cmd *cobra.Command, prompt string, debug bool) error {
	debug = debug || c.cfg.Log.Debug
	c.log = logger.New(
		logger.WithPretty(!c.cfg.Log.JSON),
		logger.WithJSON(c.cfg.Log.JSON),
		logger.WithDebug(debug),
		logger.WithWriter(os.Stderr),
	)
	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		c.log = logger.Multi(c.log, logger.New(
			logger.WithJSON(true),
			logger.WithDebug(debug),
			logger.WithWriter(f),
		))
	}

	var sch *schema.Schema
	var schemaJSON json.RawMessage
	if c.schemaPath != "" {
		raw, err := os.ReadFile(c.schemaPath)
		if err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		sch, err = schema.Compile(raw)
		if err != nil {
			return fmt.Errorf("compiling schema: %w", err)
		}
		schemaJSON = sch.JSON()
	}

	parser, err := provider.New(c.cfg.Provider.Name)
	if err != nil {
		return err
	}

	client, err := modelcall.NewClient(modelcall.ClientConfig{
		BaseURL: c.cfg.Provider.Upstream,
		APIKey:  c.cfg.Provider.APIKey,
		Parser:  parser,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.log.Debug("starting generation",
		"provider", c.cfg.Provider.Name,
		"model", c.cfg.Model.Name,
	)

	stream, err := client.Stream(ctx, &modelcall.Request{
		Model:      c.cfg.Model.Name,
		System:     c.system,
		Prompt:     prompt,
		SchemaJSON: schemaJSON,
	})
	if err != nil {
		return err
	}

	asm := assemble.New(assemble.Options{Schema: sch})

	result := asm.Run(ctx, stream, func(ev assemble.Event) error {
		if delta, ok := ev.(assemble.TextDeltaEvent); ok {
			fmt.Fprint(os.Stderr, delta.Delta)
		}
		return nil
	})
	fmt.Fprintln(os.Stderr)

	c.log.Info("generation finished",
		"finish_reason", string(result.FinishReason),
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"total_tokens", result.Usage.TotalTokens,
	)

	if result.Err != nil {
		if result.Partial != nil {
			if partial, err := json.MarshalIndent(result.Partial, "", "  "); err == nil {
				fmt.Fprintf(os.Stderr, "partial object before failure:\n%s\n", partial)
			}
		}
		return fmt.Errorf("generation failed (%s): %w", genai.KindOf(result.Err), result.Err)
	}

	out, err := json.MarshalIndent(result.Object, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding object: %w", err)
	}
	fmt.Println(string(out))

	return nil
}
