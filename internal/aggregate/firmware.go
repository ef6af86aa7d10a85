package aggregate

import (
	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog/log"
)

// FirmwareIssue is a board whose latest attempt ran firmware older than the product requires.
type FirmwareIssue struct {
	DMC      string `json:"dmc"`
	MainDMC  string `json:"mainDmc"`
	Version  string `json:"version"`
	Required string `json:"required"`
}

// OutdatedFirmware lists boards below the catalog's min_firmware for the session product.
// Boards with an unparsable version are reported too; boards without one are skipped.
func (h *Handler) OutdatedFirmware() ([]FirmwareIssue, error) {
	if !h.hasMeta || h.meta.MinFirmware == "" {
		return nil, nil
	}
	required, err := version.NewVersion(h.meta.MinFirmware)
	if err != nil {
		return nil, err
	}

	var issues []FirmwareIssue
	for _, p := range h.order {
		for _, b := range p.Boards {
			rec := b.Latest()
			if rec == nil || rec.Version == "" {
				continue
			}
			v, err := version.NewVersion(rec.Version)
			if err != nil {
				log.Debug().Str("dmc", rec.DMC).Str("version", rec.Version).Msg("unparsable firmware version")
			}
			if err != nil || v.LessThan(required) {
				issues = append(issues, FirmwareIssue{
					DMC:      rec.DMC,
					MainDMC:  p.MainDMC,
					Version:  rec.Version,
					Required: required.String(),
				})
			}
		}
	}
	return issues, nil
}
