package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/warp/punchclock/attendance"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
)

// =============================================================================
// CSV EXPORT - UTF-8 with BOM, localized header
// =============================================================================

// Column order is fixed: employee, date, check-in, check-out, status, overtime.
type locale struct {
	header   [6]string
	statuses map[attendance.Status]string
}

var supported = []language.Tag{language.English, language.Spanish, language.French, language.Indonesian}

var locales = map[language.Tag]locale{
	language.English: {
		header: [6]string{"Employee", "Date", "Check-in", "Check-out", "Status", "Overtime (h)"},
		statuses: map[attendance.Status]string{
			attendance.StatusPresent: "Present", attendance.StatusLate: "Late",
			attendance.StatusAbsent: "Absent", attendance.StatusLeave: "Leave",
		},
	},
	language.Spanish: {
		header: [6]string{"Empleado", "Fecha", "Entrada", "Salida", "Estado", "Horas extra"},
		statuses: map[attendance.Status]string{
			attendance.StatusPresent: "Presente", attendance.StatusLate: "Tarde",
			attendance.StatusAbsent: "Ausente", attendance.StatusLeave: "Permiso",
		},
	},
	language.French: {
		header: [6]string{"Employé", "Date", "Arrivée", "Départ", "Statut", "Heures sup."},
		statuses: map[attendance.Status]string{
			attendance.StatusPresent: "Présent", attendance.StatusLate: "En retard",
			attendance.StatusAbsent: "Absent", attendance.StatusLeave: "Congé",
		},
	},
	language.Indonesian: {
		header: [6]string{"Karyawan", "Tanggal", "Jam Masuk", "Jam Pulang", "Status", "Lembur (jam)"},
		statuses: map[attendance.Status]string{
			attendance.StatusPresent: "Hadir", attendance.StatusLate: "Terlambat",
			attendance.StatusAbsent: "Tidak Hadir", attendance.StatusLeave: "Cuti",
		},
	},
}

var matcher = language.NewMatcher(supported)

// MatchLanguage picks the export language for a tag list or Accept-Language
// value such as "es-MX,es;q=0.9". Unknown or empty input yields English.
func MatchLanguage(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return language.English
	}
	return supported[index]
}

// WriteCSV writes rows as comma-separated UTF-8 with a byte order mark and a
// header row in lang.
func WriteCSV(w io.Writer, rows []DailyRow, lang language.Tag) error {
	loc, ok := locales[lang]
	if !ok {
		loc = locales[MatchLanguage(lang.String())]
	}

	bom := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(bom)
	if err := cw.Write(loc.header[:]); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		status, ok := loc.statuses[row.Status]
		if !ok {
			status = string(row.Status)
		}
		record := []string{
			row.Employee(),
			row.Date.String(),
			clock(row.CheckIn),
			clock(row.CheckOut),
			status,
			row.OvertimeHours.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return bom.Close()
}

func clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04:05")
}
