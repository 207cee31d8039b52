package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mailplane/mailplane/internal/command"
	"github.com/mailplane/mailplane/internal/config"
)

const rsaKeyBits = 2048

// Material is what a domain needs for DKIM signing and DNS publication.
type Material struct {
	PrivateKeyPath string
	TxtValue       string // v=DKIM1; k=rsa; p=<b64>
}

// Manager owns per-domain signing keypairs, the flat selector map consumed
// by the filtering daemon, and that daemon's reload.
type Manager struct {
	keyDir        string
	mapPath       string
	reloadCmd     string
	reloadTimeout time.Duration
	runner        command.Runner
}

func NewManager(cfg config.DKIMConfig, runner command.Runner) *Manager {
	return &Manager{
		keyDir:        cfg.KeyDir,
		mapPath:       cfg.SelectorMap,
		reloadCmd:     cfg.ReloadCmd,
		reloadTimeout: cfg.ReloadTimeout,
		runner:        runner,
	}
}

// KeyPath returns the canonical private-key location for (domain, selector).
func (m *Manager) KeyPath(domain, selector string) string {
	return filepath.Join(m.keyDir, fmt.Sprintf("%s.%s.key", domain, selector))
}

// EnsureKey loads the existing private key for (domain, selector) or
// generates and persists a new one with owner-only permissions. Repeat calls
// against an existing key are side-effect free.
func (m *Manager) EnsureKey(domain, selector string) (Material, error) {
	path := m.KeyPath(domain, selector)

	priv, err := m.loadKey(path)
	if os.IsNotExist(err) {
		priv, err = m.generateKey(path)
	}
	if err != nil {
		return Material{}, err
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return Material{}, fmt.Errorf("marshal public key for %s: %w", domain, err)
	}

	return Material{
		PrivateKeyPath: path,
		TxtValue:       "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der),
	}, nil
}

func (m *Manager) loadKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s is not RSA", path)
	}
	return key, nil
}

func (m *Manager) generateKey(path string) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write private key %s: %w", path, err)
	}
	return priv, nil
}

// UpdateSelectorMap rewrites the flat "domain selector" map: any existing
// line for domain is dropped, and a fresh line is appended when active.
// The write is atomic (temp file + rename) and tolerates a missing map.
func (m *Manager) UpdateSelectorMap(domain, selector string, active bool) error {
	var lines []string
	raw, err := os.ReadFile(m.mapPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read selector map %s: %w", m.mapPath, err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if fields := strings.Fields(trimmed); len(fields) > 0 && fields[0] == domain {
			continue
		}
		lines = append(lines, trimmed)
	}

	if active {
		lines = append(lines, domain+" "+selector)
	}

	if err := os.MkdirAll(filepath.Dir(m.mapPath), 0o755); err != nil {
		return fmt.Errorf("create selector map dir: %w", err)
	}

	tmp := m.mapPath + ".tmp"
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write selector map temp file: %w", err)
	}
	if err := os.Rename(tmp, m.mapPath); err != nil {
		return fmt.Errorf("replace selector map %s: %w", m.mapPath, err)
	}
	return nil
}

// ReloadFilterDaemon invokes the configured reload command. The command
// usually needs elevated privilege, so failures carry a remediation hint.
func (m *Manager) ReloadFilterDaemon(ctx context.Context) error {
	res, err := m.runner.Run(ctx, m.reloadCmd, m.reloadTimeout)
	if err != nil {
		return fmt.Errorf("filter daemon reload: %w (hint: grant the service user permission to run %q, e.g. via sudoers)", err, m.reloadCmd)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("filter daemon reload exited %d: %s (hint: grant the service user permission to run %q, e.g. via sudoers)",
			res.ExitCode, strings.TrimSpace(res.Stderr), m.reloadCmd)
	}
	return nil
}
