package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/config"
	"github.com/sugarlabs/sugar-datastore/internal/daemon"
	"github.com/sugarlabs/sugar-datastore/internal/index"
	"github.com/sugarlabs/sugar-datastore/internal/store"
)

func newServeCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC daemon",
		Long: `Open the profile and listen on a Unix socket for JSON-RPC requests,
one method per orchestrator operation. Blocks until the context is
cancelled (Ctrl-C).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, socketPath)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default from config)")

	return cmd
}

func runServe(cmd *cobra.Command, socketPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if socketPath == "" {
		socketPath = cfg.Server.SocketPath
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	srv, err := daemon.NewServer(socketPath)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	srv.SetHandler(&storeHandler{store: s})
	defer func() { _ = srv.Close() }()

	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", socketPath)
	return srv.ListenAndServe(cmd.Context())
}

// storeHandler adapts *store.Store's synchronous, byte-oriented methods to
// daemon.RequestHandler's ctx-taking, string-oriented signatures.
type storeHandler struct {
	store *store.Store
}

func (h *storeHandler) Create(_ context.Context, p daemon.CreateParams) (string, error) {
	return h.store.Create(bytesBag(p.Properties), p.SourcePath, p.TransferOwnership)
}

func (h *storeHandler) Update(_ context.Context, p daemon.UpdateParams) error {
	return h.store.Update(p.ID, bytesBag(p.Properties), p.SourcePath, p.TransferOwnership)
}

func (h *storeHandler) Find(_ context.Context, p daemon.FindParams) ([]map[string]string, uint64, error) {
	bags, total, err := h.store.Find(index.Query{
		Text:       p.Query,
		Offset:     p.Offset,
		Limit:      p.Limit,
		OrderBy:    p.OrderBy,
		Predicates: p.Predicates,
	}, p.RequestedProps)
	if err != nil {
		return nil, 0, err
	}
	out := make([]map[string]string, len(bags))
	for i, bag := range bags {
		out[i] = stringBagFor(bag)
	}
	return out, total, nil
}

func (h *storeHandler) FindIDs(_ context.Context, p daemon.FindParams) ([]string, uint64, error) {
	return h.store.FindIDs(index.Query{
		Text:       p.Query,
		Offset:     p.Offset,
		Limit:      p.Limit,
		OrderBy:    p.OrderBy,
		Predicates: p.Predicates,
	})
}

func (h *storeHandler) GetProperties(_ context.Context, id string) (map[string]string, error) {
	bag, err := h.store.GetProperties(id)
	if err != nil {
		return nil, err
	}
	return stringBagFor(bag), nil
}

func (h *storeHandler) GetFilename(_ context.Context, id string) (string, error) {
	return h.store.GetFilename(id)
}

func (h *storeHandler) Delete(_ context.Context, id string) error {
	return h.store.Delete(id)
}

func (h *storeHandler) UniqueValues(_ context.Context, field string) ([]string, error) {
	return h.store.UniqueValues(field)
}

func (h *storeHandler) Root() string {
	return h.store.Root()
}

func bytesBag(m map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out
}

func stringBagFor(m map[string][]byte) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = string(v)
	}
	return out
}
