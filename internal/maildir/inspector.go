package maildir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/command"
	"github.com/mailplane/mailplane/internal/config"
	"github.com/mailplane/mailplane/internal/model"
	"github.com/mailplane/mailplane/internal/util"
)

// ErrPermission marks stats/purge failures caused by filesystem permissions;
// the wrapping error names the offending path.
var ErrPermission = errors.New("permission denied")

// messageDirs are the maildir subdirectories that hold message files.
var messageDirs = map[string]bool{"cur": true, "new": true, "tmp": true}

// Inspector computes usage of and purges on-disk mail storage for a mailbox,
// either by walking the tree directly or by delegating to configured
// external commands.
type Inspector struct {
	bases    []string
	statsCmd string
	purgeCmd string
	timeout  time.Duration
	runner   command.Runner
	log      *zap.Logger
}

func NewInspector(cfg config.StorageConfig, runner command.Runner, log *zap.Logger) *Inspector {
	bases := cfg.Bases
	if len(bases) == 0 {
		bases = []string{"/var/vmail"}
	}
	return &Inspector{
		bases:    bases,
		statsCmd: cfg.StatsCmd,
		purgeCmd: cfg.PurgeCmd,
		timeout:  cfg.CmdTimeout,
		runner:   runner,
		log:      log,
	}
}

// ResolveRoot probes every storage base under both layout conventions
// (plain and nested Maildir) and returns the first existing directory. When
// nothing exists it returns the best-effort default and ok=false.
func (i *Inspector) ResolveRoot(email string) (string, bool) {
	local, domain, ok := util.SplitEmail(util.NormalizeEmail(email))
	if !ok {
		return "", false
	}

	var fallback string
	for _, base := range i.bases {
		for _, candidate := range []string{
			filepath.Join(base, domain, local),
			filepath.Join(base, domain, local, "Maildir"),
		} {
			if fallback == "" {
				fallback = candidate
			}
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return candidate, true
			}
		}
	}
	return fallback, false
}

// Usage returns storage stats for a mailbox. A missing storage root yields
// all-zero stats, not an error.
func (i *Inspector) Usage(ctx context.Context, email string) (model.StorageUsage, error) {
	root, exists := i.ResolveRoot(email)

	if i.statsCmd != "" {
		return i.delegatedUsage(ctx, email, root)
	}
	if !exists {
		return model.StorageUsage{Path: root}, nil
	}

	usage := model.StorageUsage{Path: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("%w: %s", ErrPermission, path)
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil // raced with delivery; skip
		}
		usage.UsedBytes += info.Size()

		parent := filepath.Base(filepath.Dir(path))
		if parent != "cur" && parent != "new" {
			return nil
		}
		grand := filepath.Dir(filepath.Dir(path))
		switch {
		case grand == root:
			usage.InboxCount++
		case strings.Contains(strings.ToLower(filepath.Base(grand)), "sent"):
			usage.SentCount++
		}
		return nil
	})
	if err != nil {
		return model.StorageUsage{}, err
	}
	return usage, nil
}

// Purge deletes every message file under the mailbox's message directories.
// A missing storage root is a no-op success. Destructive: callers gate this
// behind an explicit confirmation token.
func (i *Inspector) Purge(ctx context.Context, email string) (model.PurgeResult, error) {
	root, exists := i.ResolveRoot(email)

	if i.purgeCmd != "" {
		return i.delegatedPurge(ctx, email, root)
	}
	if !exists {
		return model.PurgeResult{Path: root}, nil
	}

	result := model.PurgeResult{Path: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("%w: %s", ErrPermission, path)
			}
			return err
		}
		if d.IsDir() || !messageDirs[filepath.Base(filepath.Dir(path))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("%w: %s", ErrPermission, path)
			}
			return err
		}
		result.DeletedFiles++
		result.DeletedBytes += info.Size()
		return nil
	})
	if err != nil {
		return model.PurgeResult{}, err
	}

	i.log.Info("mailbox storage purged",
		zap.String("email", email),
		zap.Int("files", result.DeletedFiles),
		zap.Int64("bytes", result.DeletedBytes))
	return result, nil
}

// ---- delegated command path ----

// cmdStatsResult is the delegated command's stats contract (last non-empty
// stdout line).
type cmdStatsResult struct {
	OK         bool   `json:"ok"`
	UsedBytes  int64  `json:"usedBytes"`
	InboxCount int    `json:"inboxCount"`
	SentCount  int    `json:"sentCount"`
	Path       string `json:"path"`
	Error      string `json:"error"`
}

// cmdPurgeResult is the delegated command's purge contract.
type cmdPurgeResult struct {
	OK           bool   `json:"ok"`
	DeletedFiles int    `json:"deletedFiles"`
	DeletedBytes int64  `json:"deletedBytes"`
	Path         string `json:"path"`
	Error        string `json:"error"`
}

func (i *Inspector) delegatedUsage(ctx context.Context, email, root string) (model.StorageUsage, error) {
	var out cmdStatsResult
	if err := i.runTemplate(ctx, i.statsCmd, email, root, &out); err != nil {
		return model.StorageUsage{}, err
	}
	if !out.OK {
		return model.StorageUsage{}, fmt.Errorf("storage stats command: %s", out.Error)
	}
	return model.StorageUsage{
		UsedBytes:  out.UsedBytes,
		InboxCount: out.InboxCount,
		SentCount:  out.SentCount,
		Path:       out.Path,
	}, nil
}

func (i *Inspector) delegatedPurge(ctx context.Context, email, root string) (model.PurgeResult, error) {
	var out cmdPurgeResult
	if err := i.runTemplate(ctx, i.purgeCmd, email, root, &out); err != nil {
		return model.PurgeResult{}, err
	}
	if !out.OK {
		return model.PurgeResult{}, fmt.Errorf("storage purge command: %s", out.Error)
	}
	return model.PurgeResult{
		DeletedFiles: out.DeletedFiles,
		DeletedBytes: out.DeletedBytes,
		Path:         out.Path,
	}, nil
}

// runTemplate substitutes the mailbox into the command template, runs it,
// and decodes the last non-empty stdout line as JSON. Non-zero exit or
// malformed output is a failure.
func (i *Inspector) runTemplate(ctx context.Context, tmpl, email, root string, into any) error {
	local, domain, _ := util.SplitEmail(util.NormalizeEmail(email))
	cmd := strings.NewReplacer(
		"{email}", email,
		"{domain}", domain,
		"{local}", local,
		"{maildir}", root,
	).Replace(tmpl)

	res, err := i.runner.Run(ctx, cmd, i.timeout)
	if err != nil {
		return fmt.Errorf("storage command: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("storage command exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	line := lastNonEmptyLine(res.Stdout)
	if line == "" {
		return errors.New("storage command produced no output")
	}
	if err := json.Unmarshal([]byte(line), into); err != nil {
		return fmt.Errorf("storage command output is not JSON: %w", err)
	}
	return nil
}

func lastNonEmptyLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
