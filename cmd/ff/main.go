package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flashflow/internal/config"
	"flashflow/internal/db"
	"flashflow/internal/domain"
	"flashflow/internal/engine"
	"flashflow/internal/engine/auth"
	"flashflow/internal/migrate"
	"flashflow/internal/repo"
	"flashflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ff",
	Short: "FlashFlow CLI",
	Long: `FlashFlow coordinates a video content-production pipeline.
Videos move through recording, editing and upload; workers take temporary
custody of a video with a time-bounded claim, hand it to the next role, and
every transition lands in an append-only audit log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLASHFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation (admin only)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(videoCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func videoCmd() *cobra.Command {
	video := &cobra.Command{Use: "video", Short: "Manage videos and claims"}
	video.AddCommand(videoAddCmd())
	video.AddCommand(videoListCmd())
	video.AddCommand(videoShowCmd())
	video.AddCommand(videoClaimCmd())
	video.AddCommand(videoReleaseCmd())
	video.AddCommand(videoHandoffCmd())
	video.AddCommand(videoCompleteCmd())
	return video
}

func videoAddCmd() *cobra.Command {
	var title, variantID, accountID, status string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, deduped, err := e.CreateVideo(ctx, engine.CreateVideoOptions{
					Title:         title,
					VariantID:     variantID,
					AccountID:     accountID,
					Status:        status,
					Actor:         cliActor(e.Config),
					CorrelationID: newCorrelationID(),
				})
				if err != nil {
					return err
				}
				if deduped && !viper.GetBool("json") {
					fmt.Printf("existing pickup-eligible video returned: %s\n", v.ID)
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "video title")
	cmd.Flags().StringVar(&variantID, "variant", "", "content variant id")
	cmd.Flags().StringVar(&accountID, "account", "", "publishing account id")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default not_recorded)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func videoListCmd() *cobra.Command {
	var f repo.VideoFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				videos, err := r.ListVideos(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(videos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Holder", "Assigned", "Expires"})
				for _, v := range videos {
					tw.AppendRow(table.Row{v.ID, v.Title, v.Status, strOr(v.ClaimHolder), strOr(v.AssignedTo), strOr(v.ClaimExpiresAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().StringVar(&f.ClaimHolder, "holder", "", "claim holder filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func videoShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <video-id>",
		Short: "Show a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := r.GetVideo(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func videoClaimCmd() *cobra.Command {
	var role string
	var ttlMinutes int
	cmd := &cobra.Command{
		Use:   "claim <video-id>",
		Short: "Claim a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.ClaimVideo(ctx, engine.ClaimOptions{
					VideoID:       args[0],
					Role:          role,
					TTL:           time.Duration(ttlMinutes) * time.Minute,
					Actor:         cliActor(e.Config),
					CorrelationID: newCorrelationID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "claim role (recorder, editor, uploader, admin)")
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "lease minutes (default from config)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func videoReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <video-id>",
		Short: "Release a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.ReleaseVideo(ctx, engine.ReleaseOptions{
					VideoID:       args[0],
					Actor:         cliActor(e.Config),
					Force:         viper.GetBool("force"),
					CorrelationID: newCorrelationID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func videoHandoffCmd() *cobra.Command {
	var toUser, toRole, notes string
	var ttlMinutes int
	cmd := &cobra.Command{
		Use:   "handoff <video-id>",
		Short: "Hand a video to the next worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.HandoffVideo(ctx, engine.HandoffOptions{
					VideoID:       args[0],
					Actor:         cliActor(e.Config),
					ToUser:        toUser,
					ToRole:        toRole,
					TTL:           time.Duration(ttlMinutes) * time.Minute,
					Notes:         notes,
					Force:         viper.GetBool("force"),
					CorrelationID: newCorrelationID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&toUser, "to", "", "receiving actor id")
	cmd.Flags().StringVar(&toRole, "role", "", "receiving role")
	cmd.Flags().StringVar(&notes, "notes", "", "handoff notes")
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "lease minutes for the receiver")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func videoCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <video-id>",
		Short: "Complete the current assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CompleteVideoAssignment(ctx, engine.CompleteOptions{
					VideoID:       args[0],
					Actor:         cliActor(e.Config),
					Force:         viper.GetBool("force"),
					CorrelationID: newCorrelationID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountVideosByStatus(ctx)
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				claims, err := e.Repo.ListActiveClaims(ctx, now)
				if err != nil {
					return err
				}
				schema, err := migrate.SchemaVersion(e.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"schema_version": schema, "video_counts": counts, "active_claims": claims})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, status := range []string{
					domain.StatusNotRecorded, domain.StatusRecorded, domain.StatusEditing,
					domain.StatusReview, domain.StatusApproved, domain.StatusPosted, domain.StatusError,
				} {
					if counts[status] > 0 {
						tw.AppendRow(table.Row{status, counts[status]})
					}
				}
				tw.Render()
				if len(claims) > 0 {
					cw := table.NewWriter()
					cw.SetOutputMirror(os.Stdout)
					cw.AppendHeader(table.Row{"Video", "Holder", "Role", "Expires"})
					for _, v := range claims {
						cw.AppendRow(table.Row{v.ID, strOr(v.ClaimHolder), strOr(v.ClaimRole), strOr(v.ClaimExpiresAt)})
					}
					cw.Render()
				}
				return nil
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	audit.AddCommand(auditTailCmd())
	return audit
}

func auditTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListAuditEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Event", "Video", "Actor", "From", "To"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.EventType, e.VideoID, e.ActorID, e.FromHolder, e.ToHolder})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.VideoID, "video", "", "video id filter")
	cmd.Flags().StringVar(&f.EventType, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.Actor, "actor", "", "actor filter")
	cmd.Flags().StringVar(&f.CorrelationID, "correlation", "", "correlation id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "ffk_" + hex.EncodeToString(raw)
				if err := r.EnsureActor(ctx, actorID); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The secret is only shown once; the database stores its hash.
				return printJSON(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"api_key":  secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:        cfg.Auth.JWTSecret,
				AllowActorHeader: cfg.Auth.AllowActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("FLASHFLOW_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
				return fmt.Errorf("FLASHFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Shutdown: cmd.Context()})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving FlashFlow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// cliActor builds the local identity. Admin status comes from the workspace
// config allowlist, same as the HTTP layer.
func cliActor(cfg *config.Config) auth.Actor {
	id := viper.GetString("actor-id")
	return auth.Actor{
		ID:     id,
		Admin:  cfg != nil && cfg.IsAdmin(id),
		Source: "cli",
	}
}

func newCorrelationID() string {
	return uuid.New().String()
}

func strOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
