package proxy

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// UpstreamPublisher pushes the current healthy proxy set to an external
// load balancer.
type UpstreamPublisher interface {
	Publish(entries []*Entry) error
}

// FilePublisher renders an nginx-style upstream block and atomically
// replaces the target file. The balancer is expected to watch or reload
// the file.
type FilePublisher struct {
	Path            string
	UpstreamName    string
	BackupThreshold float64
	logger          *zap.Logger
}

// NewFilePublisher writes upstream config at path. Entries whose
// success rate is below threshold are marked backup.
func NewFilePublisher(path string, threshold float64, logger *zap.Logger) *FilePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	return &FilePublisher{
		Path:            path,
		UpstreamName:    "harvest_proxies",
		BackupThreshold: threshold,
		logger:          logger,
	}
}

func (f *FilePublisher) Publish(entries []*Entry) error {
	conf, err := BuildUpstreamConfig(f.UpstreamName, entries, f.BackupThreshold)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".upstream-*.conf")
	if err != nil {
		return fmt.Errorf("creating temp upstream file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(conf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing upstream config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing upstream config: %w", err)
	}

	f.logger.Info("published upstream config",
		zap.String("path", f.Path), zap.Int("servers", len(entries)))
	return nil
}

// BuildUpstreamConfig renders an nginx upstream block from active
// entries, ordered healthiest first. Entries below threshold become
// backup servers. At least one primary server is required.
func BuildUpstreamConfig(name string, entries []*Entry, threshold float64) (string, error) {
	active := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.Active {
			active = append(active, e)
		}
	}
	if len(active) == 0 {
		return "", fmt.Errorf("no active proxies to publish")
	}
	sortByScore(active)

	// No balancing directive: nginx defaults to weighted round-robin,
	// which is what the weights are computed for.
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s {\n", name)
	primaries := 0
	for _, e := range active {
		host, err := upstreamHost(e.URL)
		if err != nil {
			continue
		}
		weight := int(e.SuccessRate*10) + 1
		if e.SuccessRate < threshold {
			fmt.Fprintf(&b, "    server %s weight=%d backup;\n", host, weight)
			continue
		}
		fmt.Fprintf(&b, "    server %s weight=%d;\n", host, weight)
		primaries++
	}
	fmt.Fprintf(&b, "}\n")

	if primaries == 0 {
		return "", fmt.Errorf("no proxies above backup threshold %.2f", threshold)
	}
	return b.String(), nil
}

func upstreamHost(proxyURL string) (string, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("proxy URL %q has no host", proxyURL)
	}
	return u.Host, nil
}
