// Package report aggregates the attendance log into per-subject and
// per-student summaries with grade banding, and exports them as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"classtrack/internal/attendance"
)

// StudentSummary is one student's standing within a subject.
type StudentSummary struct {
	StudentID   string  `json:"studentId"`
	StudentName string  `json:"studentName"`
	Attended    int     `json:"attended"`
	Late        int     `json:"late"`
	Missed      int     `json:"missed"`
	TotalScore  int     `json:"totalScore"`
	Percentage  float64 `json:"percentage"`
	Grade       string  `json:"grade"`
}

// SubjectSummary aggregates all enrolled students for one subject.
type SubjectSummary struct {
	Subject       string           `json:"subject"`
	AcademicLevel string           `json:"academicLevel"`
	SessionsHeld  int              `json:"sessionsHeld"`
	Students      []StudentSummary `json:"students"`
}

// Grade converts an attendance percentage to a letter grade.
func Grade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 75:
		return "B"
	case percentage >= 60:
		return "C"
	case percentage >= 40:
		return "D"
	default:
		return "F"
	}
}

// Build computes one summary per subject that has held at least one
// session. Enrolled students with no record for a session count as
// absent.
func Build(sessions []attendance.Session, records []attendance.AttendanceRecord, students []attendance.Student) []SubjectSummary {
	type subjectKey struct {
		subject string
		level   string
	}

	held := make(map[subjectKey]int)
	for _, s := range sessions {
		held[subjectKey{s.Subject, s.AcademicLevel}]++
	}

	// (subject, student) -> per-status counts and score.
	attended := make(map[subjectKey]map[string]*StudentSummary)
	for _, r := range records {
		key := subjectKey{r.Subject, r.AcademicLevel}
		if attended[key] == nil {
			attended[key] = make(map[string]*StudentSummary)
		}
		entry := attended[key][r.StudentID]
		if entry == nil {
			entry = &StudentSummary{StudentID: r.StudentID, StudentName: r.StudentName}
			attended[key][r.StudentID] = entry
		}
		entry.Attended++
		if r.Status == attendance.StatusLate {
			entry.Late++
		}
		entry.TotalScore += r.Score
	}

	var out []SubjectSummary
	for key, n := range held {
		summary := SubjectSummary{
			Subject:       key.subject,
			AcademicLevel: key.level,
			SessionsHeld:  n,
		}
		seen := make(map[string]bool)
		for _, st := range students {
			if !enrolled(st, key.subject) {
				continue
			}
			entry := StudentSummary{StudentID: st.ID, StudentName: st.Name}
			if e := attended[key][st.ID]; e != nil {
				entry = *e
			}
			finish(&entry, n)
			summary.Students = append(summary.Students, entry)
			seen[entry.StudentID] = true
		}
		// Records from students no longer on the roster still count.
		for _, e := range attended[key] {
			if seen[e.StudentID] {
				continue
			}
			entry := *e
			finish(&entry, n)
			summary.Students = append(summary.Students, entry)
		}
		sort.Slice(summary.Students, func(i, j int) bool {
			return summary.Students[i].StudentName < summary.Students[j].StudentName
		})
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].AcademicLevel < out[j].AcademicLevel
	})
	return out
}

func finish(e *StudentSummary, held int) {
	e.Missed = held - e.Attended
	if e.Missed < 0 {
		e.Missed = 0
	}
	if held > 0 {
		e.Percentage = float64(e.Attended) / float64(held) * 100
	}
	e.Grade = Grade(e.Percentage)
}

func enrolled(s attendance.Student, subject string) bool {
	for _, sub := range s.Subjects {
		if sub == subject {
			return true
		}
	}
	return false
}

// WriteCSV writes all summaries as one flat CSV table.
func WriteCSV(w io.Writer, summaries []SubjectSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"subject", "academic_level", "sessions_held", "student_id", "student_name", "attended", "late", "missed", "total_score", "percentage", "grade"}); err != nil {
		return err
	}
	for _, s := range summaries {
		for _, e := range s.Students {
			row := []string{
				s.Subject,
				s.AcademicLevel,
				fmt.Sprintf("%d", s.SessionsHeld),
				e.StudentID,
				e.StudentName,
				fmt.Sprintf("%d", e.Attended),
				fmt.Sprintf("%d", e.Late),
				fmt.Sprintf("%d", e.Missed),
				fmt.Sprintf("%d", e.TotalScore),
				fmt.Sprintf("%.1f", e.Percentage),
				e.Grade,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
