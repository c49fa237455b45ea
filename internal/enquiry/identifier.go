// Package enquiry holds the enquiry intake domain: identifier generation over
// the two remote tables, record reconciliation, the per-session snapshot and
// the journaled submission saga.
package enquiry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"enquiry-workers/internal/models"
)

const (
	RequisitionPrefix = "AAP"
	CandidatePrefix   = "ENQ"
)

var (
	requisitionPattern = regexp.MustCompile(`(?i)^AAP-(\d+)$`)
	candidatePattern   = regexp.MustCompile(`(?i)ENQ-(\d+)`)
)

// NextRequisitionID pools the indent numbers of both tables and returns the
// next AAP-NN after the highest match. Values not shaped like AAP-<digits> are
// ignored.
func NextRequisitionID(indents []models.IndentSummary, enquiries []models.EnquirySummary) string {
	pool := make([]string, 0, len(indents)+len(enquiries))
	for _, s := range indents {
		pool = append(pool, s.IndentNumber)
	}
	for _, s := range enquiries {
		pool = append(pool, s.IndentNumber)
	}
	return formatID(RequisitionPrefix, maxSuffix(pool, requisitionPattern, true)+1)
}

// NextCandidateID returns ENQ-NN after the highest ENQ number found anywhere in
// the candidate enquiry numbers. An empty table yields ENQ-01.
func NextCandidateID(enquiries []models.EnquirySummary) string {
	pool := make([]string, 0, len(enquiries))
	for _, s := range enquiries {
		pool = append(pool, s.CandidateEnquiryNumber)
	}
	return formatID(CandidatePrefix, maxSuffix(pool, candidatePattern, false)+1)
}

// CandidateIDTaken reports whether id already appears among the enquiries,
// ignoring case.
func CandidateIDTaken(id string, enquiries []models.EnquirySummary) bool {
	for _, s := range enquiries {
		if strings.EqualFold(strings.TrimSpace(s.CandidateEnquiryNumber), id) {
			return true
		}
	}
	return false
}

func maxSuffix(values []string, pattern *regexp.Regexp, trim bool) int {
	highest := 0
	for _, v := range values {
		if trim {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			continue
		}
		m := pattern.FindStringSubmatch(v)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest
}

func formatID(prefix string, n int) string {
	return fmt.Sprintf("%s-%02d", prefix, n)
}
