/*
Package ingest is the raw file upload boundary.

PURPOSE:
  An operator uploads a terminal export, previews how it parses, then
  imports it. Preview touches nothing; Import appends through the punch
  ledger, so re-uploading an overlapping file only adds the new events.

USAGE:
  svc := ingest.NewService(ledger, devices)
  preview, _ := svc.Preview(parser.FormatZKDat, payload)
  result, _ := svc.Import(ctx, ingest.Request{TenantID: "acme", Format: parser.FormatZKDat, Payload: payload})
*/
package ingest

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/warp/punchclock/attendance"
	"github.com/warp/punchclock/parser"
)

// DefaultSampleSize is how many parsed punches a preview echoes back.
const DefaultSampleSize = 20

// Devices validates an optional source device.
type Devices interface {
	GetDevice(ctx context.Context, tenantID, id string) (*attendance.Device, error)
}

type Service struct {
	Ledger     *attendance.PunchLedger
	Devices    Devices // optional
	Logger     *log.Logger
	SampleSize int
}

func NewService(ledger *attendance.PunchLedger, devices Devices) *Service {
	return &Service{Ledger: ledger, Devices: devices, SampleSize: DefaultSampleSize}
}

type Preview struct {
	Format  parser.Format        `json:"format"`
	Parsed  int                  `json:"parsed"`
	Skipped int                  `json:"skipped"`
	Sample  []parser.ParsedPunch `json:"sample"`
	Skips   []parser.Skip        `json:"skips"`
}

// Preview parses the payload and reports counts without writing anything.
func (s *Service) Preview(format parser.Format, payload []byte) (*Preview, error) {
	result, err := parser.ParseBytes(format, payload)
	if err != nil {
		return nil, err
	}
	n := s.SampleSize
	if n <= 0 {
		n = DefaultSampleSize
	}
	if n > len(result.Punches) {
		n = len(result.Punches)
	}
	return &Preview{
		Format:  format,
		Parsed:  len(result.Punches),
		Skipped: len(result.Skipped),
		Sample:  result.Punches[:n],
		Skips:   result.Skipped,
	}, nil
}

type Request struct {
	TenantID string
	Format   parser.Format
	Payload  []byte
	DeviceID string // optional source terminal
}

type Result struct {
	Parsed     int           `json:"parsed"`
	Skipped    int           `json:"skipped"`
	Written    int           `json:"written"`
	Duplicates int           `json:"duplicates"`
	Skips      []parser.Skip `json:"skips"`
}

// Import parses the payload and appends every parsed punch to the ledger as
// a file import. Malformed lines are counted, never fatal.
func (s *Service) Import(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == "" {
		return nil, attendance.ErrTenantRequired
	}
	if req.DeviceID != "" && s.Devices != nil {
		dev, err := s.Devices.GetDevice(ctx, req.TenantID, req.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up device: %w", err)
		}
		if dev == nil {
			return nil, fmt.Errorf("%w: %s", attendance.ErrDeviceNotFound, req.DeviceID)
		}
	}

	parsed, err := parser.ParseBytes(req.Format, req.Payload)
	if err != nil {
		return nil, err
	}

	appended, err := s.Ledger.Append(ctx, parsed.Records(req.TenantID, req.DeviceID, attendance.SourceFileImport))
	if err != nil {
		return nil, err
	}

	result := &Result{
		Parsed:     len(parsed.Punches),
		Skipped:    len(parsed.Skipped),
		Written:    appended.Written,
		Duplicates: appended.Duplicates,
		Skips:      parsed.Skipped,
	}
	s.logger().Printf("[Import] tenant=%s format=%s device=%q parsed=%d skipped=%d written=%d duplicates=%d",
		req.TenantID, req.Format, req.DeviceID, result.Parsed, result.Skipped, result.Written, result.Duplicates)
	return result, nil
}

func (s *Service) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return s.Logger
}
