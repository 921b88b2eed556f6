package stats

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/raainshe/qbitdash/internal/logging"
)

// FileName is the qBittorrent data file holding lifetime stats
const FileName = "qBittorrent-data.conf"

// Key and prefix of the serialized stats value. QSettings quotes the value,
// AllStats="@Variant(...)", when its escaped text contains ';', ',' or '='.
const (
	VariantKey    = "AllStats="
	VariantPrefix = "@Variant("
)

var (
	ErrStatsFileMissing    = errors.New("stats file not found")
	ErrMarkerNotFound      = errors.New("AllStats entry not found")
	ErrUnterminatedVariant = errors.New("AllStats entry is not terminated")
)

// Reader loads lifetime traffic totals from qBittorrent data directories
type Reader struct {
	logger *logging.Logger
}

// NewReader creates a stats file reader
func NewReader() *Reader {
	return &Reader{logger: logging.GetStatsLogger()}
}

// Read decodes <dir>/qBittorrent-data.conf. Failures are logged and returned;
// callers treat them as an instance without stats.
func (r *Reader) Read(dir string) (Totals, error) {
	path := filepath.Join(dir, FileName)

	totals, err := readFile(path)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		}).Warn("Failed to read traffic stats")
		return Totals{}, err
	}

	r.logger.WithFields(map[string]interface{}{
		"path":       path,
		"uploaded":   totals.Uploaded,
		"downloaded": totals.Downloaded,
	}).Debug("Traffic stats read")

	return totals, nil
}

func readFile(path string) (Totals, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Totals{}, fmt.Errorf("%w: %s", ErrStatsFileMissing, path)
		}
		return Totals{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	escaped, err := ExtractVariant(content)
	if err != nil {
		return Totals{}, err
	}

	totals, err := Decode(Unescape(escaped))
	if err != nil {
		return Totals{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return totals, nil
}

// ExtractVariant returns the escaped bytes between "AllStats=@Variant(" and the
// closing parenthesis, with or without the surrounding double quotes. The value
// may itself contain a raw ')', so the last one on the line is taken; the
// escaping guarantees the value never spans lines.
func ExtractVariant(content []byte) ([]byte, error) {
	key := []byte(VariantKey)
	prefix := []byte(VariantPrefix)

	for len(content) > 0 {
		line := content
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			content = nil
		}

		line = bytes.TrimRight(line, "\r")
		trimmed := bytes.TrimLeft(line, " \t")
		if !bytes.HasPrefix(trimmed, key) {
			continue
		}

		value := trimmed[len(key):]
		quoted := len(value) > 0 && value[0] == '"'
		if quoted {
			value = value[1:]
		}
		if !bytes.HasPrefix(value, prefix) {
			continue
		}
		value = value[len(prefix):]

		if quoted {
			value = bytes.TrimRight(value, " \t")
			if !bytes.HasSuffix(value, []byte{'"'}) {
				return nil, ErrUnterminatedVariant
			}
			value = value[:len(value)-1]
		}

		end := bytes.LastIndexByte(value, ')')
		if end < 0 {
			return nil, ErrUnterminatedVariant
		}
		return value[:end], nil
	}

	return nil, ErrMarkerNotFound
}
