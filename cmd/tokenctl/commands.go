package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chat-token-budget/internal/config"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/infra/tokenizer"
	"chat-token-budget/internal/infra/web"
	"chat-token-budget/internal/tokenbudget"
	"chat-token-budget/internal/usecase"
)

type rootOptions struct {
	model     string
	tokenizer string
	cacheDir  string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Count and trim chat conversations against model context windows",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.model, "model", "m", "", "model name (default gpt-4o)")
	root.PersistentFlags().StringVarP(&opts.tokenizer, "tokenizer", "t", tokenizer.ModeTiktoken, "tokenizer mode: tiktoken|estimate")
	root.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", "", "tiktoken BPE cache directory")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log tokenizer loading")

	root.AddCommand(newModelsCmd(opts))
	root.AddCommand(newCountCmd(opts))
	root.AddCommand(newTrimCmd(opts))
	root.AddCommand(newTokenCmd())
	return root
}

func (o *rootOptions) registry(cmd *cobra.Command) (*tokenbudget.Registry, error) {
	logger := zerolog.Nop()
	if o.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	}
	return tokenizer.NewRegistry(o.tokenizer, o.cacheDir, "", &logger)
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models and their limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tCONTEXT\tOUTPUT\t$/1K IN\t$/1K OUT")
			for _, p := range model.SortedProfiles(model.DefaultProfiles()) {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.4f\n",
					p.Name, p.MaxContextTokens, p.MaxOutputTokens, p.CostPerThousandInput, p.CostPerThousandOutput)
			}
			return tw.Flush()
		},
	}
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	var (
		messagesFile string
		maxOutput    int
	)
	cmd := &cobra.Command{
		Use:   "count [text...]",
		Short: "Count tokens of text, or check a conversation file against the model window",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			if messagesFile == "" {
				mgr, err := reg.Manager(opts.model)
				if err != nil {
					return err
				}
				text := strings.Join(args, " ")
				if len(args) == 0 {
					b, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return err
					}
					text = string(b)
				}
				fmt.Fprintln(cmd.OutOrStdout(), mgr.CountTokens(text))
				return nil
			}

			msgs, err := readMessages(cmd, messagesFile)
			if err != nil {
				return err
			}
			out, err := usecase.NewTokenUseCase(reg).Analyze(cmd.Context(), opts.model, msgs, overridePtr(cmd, maxOutput))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Model        string                 `json:"model"`
				TokenCheck   model.TokenLimitReport `json:"tokenCheck"`
				UsageSummary model.UsageSummary     `json:"usageSummary"`
			}{out.Model, out.TokenCheck, out.UsageSummary})
		},
	}
	cmd.Flags().StringVarP(&messagesFile, "messages", "f", "", "JSON file with [{role, content}] (- for stdin)")
	cmd.Flags().IntVar(&maxOutput, "max-output", 0, "override the model's output token budget")
	return cmd
}

func newTrimCmd(opts *rootOptions) *cobra.Command {
	var (
		messagesFile string
		maxOutput    int
	)
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Trim a conversation file so it fits the model window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if messagesFile == "" {
				return errors.New("--messages is required")
			}
			reg, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			msgs, err := readMessages(cmd, messagesFile)
			if err != nil {
				return err
			}
			mgr, err := reg.Manager(opts.model)
			if err != nil {
				return err
			}
			trimmed := mgr.TrimMessagesToFit(msgs, overridePtr(cmd, maxOutput))
			fmt.Fprintf(cmd.ErrOrStderr(), "kept %d of %d messages\n", len(trimmed), len(msgs))
			return printJSON(cmd.OutOrStdout(), trimmed)
		},
	}
	cmd.Flags().StringVarP(&messagesFile, "messages", "f", "", "JSON file with [{role, content}] (- for stdin)")
	cmd.Flags().IntVar(&maxOutput, "max-output", 0, "override the model's output token budget")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		cfgPath string
		secret  string
		issuer  string
		userID  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl := config.DefaultTokenTTL
			if cfgPath != "" {
				cfg, err := config.LoadConfig(cfgPath, true)
				if err != nil {
					return err
				}
				if secret == "" {
					secret = cfg.Auth.JWTSecret
				}
				if issuer == "" {
					issuer = cfg.Auth.Issuer
				}
				ttl = cfg.Auth.TokenTTL
			}
			if secret == "" {
				return errors.New("a secret is required (--secret or --config)")
			}
			tok, err := web.NewAuthManager(secret, issuer, ttl).Mint(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "server config file to read auth settings from")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (overrides config)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token issuer (overrides config)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id placed in the sub claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func readMessages(cmd *cobra.Command, path string) ([]model.ChatMessage, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var msgs []model.ChatMessage
	if err := json.NewDecoder(r).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// overridePtr returns nil unless --max-output was given explicitly.
func overridePtr(cmd *cobra.Command, v int) *int {
	if !cmd.Flags().Changed("max-output") {
		return nil
	}
	return &v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
