package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/pkg/logger"
)

type CSVConfig struct {
	Location  string
	Charset   string
	Delimiter rune
	// Columns renames feed headers to field names, e.g. "Артикул" -> "sku".
	Columns map[string]string
	// ReadCap limits the number of items read; 0 reads everything.
	ReadCap int
}

// CSVSource reads the feed from a delimited file whose header names item fields.
type CSVSource struct {
	fetcher Fetcher
	cfg     CSVConfig
	log     logger.Logger
}

var _ Source = (*CSVSource)(nil)

func NewCSVSource(fetcher Fetcher, cfg CSVConfig, log logger.Logger) *CSVSource {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ';'
	}
	return &CSVSource{fetcher: fetcher, cfg: cfg, log: log.WithPrefix("[FeedSource]")}
}

func (s *CSVSource) LoadSnapshot(ctx context.Context) ([]models.Item, error) {
	body, err := s.fetcher.Fetch(ctx, s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer body.Close()

	items, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items in %s", ErrFeedUnavailable, s.cfg.Location)
	}
	return items, nil
}

func (s *CSVSource) parse(r io.Reader) ([]models.Item, error) {
	enc, err := lookupCharset(s.cfg.Charset)
	if err != nil {
		return nil, err
	}
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	csvReader := csv.NewReader(r)
	csvReader.Comma = s.cfg.Delimiter
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrFeedUnavailable)
		}
		return nil, fmt.Errorf("%w: csv header: %v", ErrFeedUnavailable, err)
	}
	fields, err := s.mapHeader(header)
	if err != nil {
		return nil, err
	}

	var items []models.Item
	line := 1
	skipped := 0
	for {
		row, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %v", ErrFeedUnavailable, line, err)
		}
		it, err := buildItem(row, fields)
		if err != nil {
			skipped++
			s.log.Warn("line %d skipped: %v", line, err)
			continue
		}
		items = append(items, it)
		if s.cfg.ReadCap > 0 && len(items) >= s.cfg.ReadCap {
			s.log.Warn("read cap of %d items reached, rest of the feed ignored", s.cfg.ReadCap)
			break
		}
	}
	s.log.Log("loaded %d items, %d lines skipped", len(items), skipped)
	return items, nil
}

// mapHeader resolves each column to a field descriptor; unknown columns are ignored.
func (s *CSVSource) mapHeader(header []string) ([]*models.FieldDescriptor, error) {
	fields := make([]*models.FieldDescriptor, len(header))
	hasSKU := false
	for i, col := range header {
		name := strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF"))
		if renamed, ok := s.cfg.Columns[name]; ok {
			name = renamed
		}
		f, ok := models.Field(name)
		if !ok {
			s.log.Warn("column %q is not a known field, ignored", col)
			continue
		}
		fields[i] = &f
		if f.Name == "sku" {
			hasSKU = true
		}
	}
	if !hasSKU {
		return nil, fmt.Errorf("%w: no sku column in header", ErrFeedUnavailable)
	}
	return fields, nil
}

func buildItem(row []string, fields []*models.FieldDescriptor) (models.Item, error) {
	it := models.Item{Status: models.StatusAvailable}
	for i, f := range fields {
		if f == nil || i >= len(row) {
			continue
		}
		if err := f.Set(&it, row[i]); err != nil {
			return models.Item{}, err
		}
	}
	it.CompactImages()
	if strings.TrimSpace(it.SKU) == "" {
		return models.Item{}, models.ErrEmptySKU
	}
	return it, nil
}

// lookupCharset returns nil for UTF-8. Windows-1251 is the default for legacy exports.
func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc, nil
}
