package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Source resolves barcodes against the system of record.
type Source interface {
	LookupProductByBarcode(ctx context.Context, barcode string) (Product, error)
}

// Service looks products up by barcode, consulting the cache first.
type Service struct {
	source Source
	cache  *Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source Source
	Cache  *Cache
	Logger zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("catalog: product source is required")
	}
	return &Service{source: cfg.Source, cache: cfg.Cache, logger: cfg.Logger}, nil
}

// Lookup returns the product for barcode. Misses are reported as ErrNotFound
// and never cached. Cache failures are logged and the source is used.
func (s *Service) Lookup(ctx context.Context, barcode string) (Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Product{}, ErrEmptyBarcode
	}
	key := s.cache.barcodeKey(barcode)

	var cached Product
	ok, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("barcode", barcode).Msg("product cache read failed")
	}
	if ok {
		return cached, nil
	}

	product, err := s.source.LookupProductByBarcode(ctx, barcode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("lookup barcode %s: %w", barcode, err)
	}
	if !product.IsActive {
		return Product{}, ErrNotFound
	}
	if err := s.cache.SetJSON(ctx, key, product); err != nil {
		s.logger.Warn().Err(err).Str("barcode", barcode).Msg("product cache write failed")
	}
	return product, nil
}

// LookupAvailable is Lookup that also rejects products without stock.
func (s *Service) LookupAvailable(ctx context.Context, barcode string) (Product, error) {
	product, err := s.Lookup(ctx, barcode)
	if err != nil {
		return Product{}, err
	}
	if !product.InStock() {
		return product, ErrOutOfStock
	}
	return product, nil
}

// Invalidate drops cached entries so the next scan sees fresh stock.
func (s *Service) Invalidate(ctx context.Context, barcodes ...string) error {
	keys := make([]string, 0, len(barcodes))
	for _, code := range barcodes {
		if code = strings.TrimSpace(code); code != "" {
			keys = append(keys, s.cache.barcodeKey(code))
		}
	}
	return s.cache.Delete(ctx, keys...)
}
