package ouidb

import (
	"context"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/pkg/common"
)

// RegistryURL is the IEEE MA-L assignment registry in CSV form. The MA-M
// and MA-S registries use the same column layout and can be fed through
// UpdateFromURL as well.
const RegistryURL = "https://standards-oui.ieee.org/oui/oui.csv"

type registryRow struct {
	Registry   string `csv:"Registry"`
	Assignment string `csv:"Assignment"`
	OrgName    string `csv:"Organization Name"`
	OrgAddress string `csv:"Organization Address"`
}

// UpdateFromURL downloads an IEEE registry CSV, upserts its assignments
// into net_oui and reloads the in-memory index.
func (s *Store) UpdateFromURL(ctx context.Context, url string) (int, error) {
	if url == "" {
		url = RegistryURL
	}

	var body string
	err := gout.GET(url).WithContext(ctx).SetTimeout(60 * time.Second).BindBody(&body).Do()
	if err != nil {
		return 0, errors.Wrapf(err, "download oui registry %s", url)
	}

	n, err := s.importCSV(ctx, body)
	if err != nil {
		return 0, err
	}
	if err := s.Reload(ctx); err != nil {
		return n, err
	}
	zap.L().Info("oui registry updated", zap.String("url", url), zap.Int("assignments", n))
	return n, nil
}

func (s *Store) importCSV(ctx context.Context, body string) (int, error) {
	var rows []registryRow
	if err := gocsv.UnmarshalString(body, &rows); err != nil {
		return 0, errors.Wrap(err, "parse oui registry csv")
	}

	records := make([]domain.NetOui, 0, len(rows))
	for _, row := range rows {
		prefix := NormalizeMac(row.Assignment)
		vendor := strings.TrimSpace(row.OrgName)
		if prefix == "" || vendor == "" {
			continue
		}
		switch len(prefix) {
		case 6, 7, 9:
		default:
			continue
		}
		records = append(records, domain.NetOui{
			ID:         common.UUIDint64(),
			Prefix:     prefix,
			PrefixBits: len(prefix) * 4,
			Vendor:     vendor,
		})
	}
	if len(records) == 0 {
		return 0, errors.New("oui registry csv contained no assignments")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "prefix"}},
		DoUpdates: clause.AssignmentColumns([]string{"vendor", "updated_at"}),
	}).CreateInBatches(records, 500).Error
	if err != nil {
		return 0, errors.Wrap(err, "upsert oui assignments")
	}
	return len(records), nil
}
