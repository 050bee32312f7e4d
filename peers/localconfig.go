package peers

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// iniValue scans path for a "key = value" line under the given section
// header (e.g. "[general]"), returning the trimmed value. An empty header
// means "anywhere in the file", matching original_source's
// wr_common.findLineInFile default behavior when no header section applies.
func iniValue(path, header, key string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	inSection := header == ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = header == "" || strings.EqualFold(line, header)
			continue
		}
		if !inSection {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), key) {
			return strings.TrimSpace(parts[1]), true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}

// findFilesNamed walks the given root directories concurrently looking for
// files with the given base name, per original_source's
// wr_common.findFileByName. Roots are scanned in parallel with errgroup,
// matching the pack's general pattern for bounded concurrent fan-out
// (golang.org/x/sync/errgroup, as used in minio-warp/pkg/bench and
// other_examples' storagenode peer.go).
func findFilesNamed(roots []string, name string) ([]string, error) {
	var mu sync.Mutex
	var found []string

	g := new(errgroup.Group)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			if _, err := os.Stat(root); err != nil {
				return nil // missing search root is not fatal; other roots may hit
			}
			return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if !d.IsDir() && d.Name() == name {
					mu.Lock()
					found = append(found, path)
					mu.Unlock()
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// FindLocalGUID locates this peer's GUID by reading
// <splunk_home>/etc/instance.cfg, [general] section, guid key, per section 6
// ("a second call reads the local peer identifier from an on-disk config
// file"). This is the local-id half of the Peer Directory's protocol.
func FindLocalGUID(splunkHome string) (string, error) {
	candidates, err := findFilesNamed([]string{filepath.Join(splunkHome, "etc")}, "instance.cfg")
	if err != nil {
		return "", fmt.Errorf("failed scanning for instance.cfg: %w", err)
	}
	for _, path := range candidates {
		if guid, ok, err := iniValue(path, "[general]", "guid"); err == nil && ok {
			return guid, nil
		}
	}
	return "", fmt.Errorf("could not find guid under %s/etc/instance.cfg", splunkHome)
}

// FindClusterMaster locates the cluster master by scanning server.conf files
// under etc/apps and etc/system/local for master_uri or manager_uri, per
// section 6 ("a third call locates the cluster master by scanning
// server.conf files").
func FindClusterMaster(splunkHome string) (uri string, port int, err error) {
	roots := []string{
		filepath.Join(splunkHome, "etc", "apps"),
		filepath.Join(splunkHome, "etc", "system", "local"),
	}
	candidates, err := findFilesNamed(roots, "server.conf")
	if err != nil {
		return "", 0, fmt.Errorf("failed scanning for server.conf: %w", err)
	}

	for _, path := range candidates {
		for _, key := range []string{"master_uri", "manager_uri"} {
			if raw, ok, ferr := iniValue(path, "[clustering]", key); ferr == nil && ok && raw != "" {
				return splitHostPort(raw)
			}
		}
	}
	return "", 0, fmt.Errorf("could not find master_uri/manager_uri under %s", splunkHome)
}

// splitHostPort splits a "host:port" value (the form master_uri/manager_uri
// take in server.conf) into host and port, defaulting to 8089 when no port
// is present, per section 6's default.
func splitHostPort(raw string) (string, int, error) {
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	host, portStr, found := strings.Cut(raw, ":")
	if !found {
		return host, 8089, nil
	}
	port, err := ParsePort(portStr, 8089)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in cluster master uri %q: %w", raw, err)
	}
	return host, port, nil
}
