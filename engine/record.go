/*
record.go - Certification records and the QR payload

PURPOSE:
  Every committed session emits one immutable CertificationRecord: which
  batches were certified, how much, the per-type jar counts, when it
  happened, when it expires (+2 years) and the verification code a buyer
  scans. The engine produces the JSON payload only; rendering it into a
  2-D barcode is a downstream concern.
*/
package engine

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CERTIFICATION RECORD
// =============================================================================

const recordValidity = 2 // years

type RecordStatus string

const (
	RecordActive  RecordStatus = "active"
	RecordExpired RecordStatus = "expired"
)

type CertificationRecord struct {
	ID               RecordID
	BatchIDs         []BatchID
	TotalCertifiedKg Weight
	JarCounts        map[CertificationType]int64
	CertifiedAt      time.Time
	ExpiresAt        time.Time
	VerificationCode string
	Status           RecordStatus
}

// NewCertificationRecord builds the audit record for a committed session.
func NewCertificationRecord(batchIDs []BatchID, jars []JarDefinition, totalCertified Weight, now time.Time) CertificationRecord {
	counts := map[CertificationType]int64{}
	for _, j := range jars {
		counts[j.Certification] += j.Quantity
	}
	return CertificationRecord{
		ID:               RecordID(uuid.NewString()),
		BatchIDs:         batchIDs,
		TotalCertifiedKg: totalCertified,
		JarCounts:        counts,
		CertifiedAt:      now,
		ExpiresAt:        now.AddDate(recordValidity, 0, 0),
		VerificationCode: uuid.NewString(),
		Status:           RecordActive,
	}
}

// TotalJars returns the jar count across all types (= tokens consumed).
func (r CertificationRecord) TotalJars() int64 {
	var n int64
	for _, c := range r.JarCounts {
		n += c
	}
	return n
}

// AggregateType collapses the record's jar types for display: the single
// type when uniform, "mixed" otherwise.
func (r CertificationRecord) AggregateType() string {
	var single CertificationType
	for ct, n := range r.JarCounts {
		if n == 0 {
			continue
		}
		if single != CertUnassigned && single != ct {
			return "mixed"
		}
		single = ct
	}
	if single == CertUnassigned {
		return "mixed"
	}
	return string(single)
}

// =============================================================================
// QR PAYLOAD - The scannable JSON (encoding to an image is downstream)
// =============================================================================

type QRPayload struct {
	BatchIDs          []string `json:"batchIds"`
	CertificationDate string   `json:"certificationDate"`
	TotalCertified    float64  `json:"totalCertified"`
	CertificationType string   `json:"certificationType"`
	ExpiryDate        string   `json:"expiryDate"`
	Verification      string   `json:"verification"`
	TotalJars         int64    `json:"totalJars"`
}

// ToQRPayload renders the record into the downloadable QR JSON.
func (r CertificationRecord) ToQRPayload() QRPayload {
	ids := make([]string, len(r.BatchIDs))
	for i, id := range r.BatchIDs {
		ids[i] = string(id)
	}
	return QRPayload{
		BatchIDs:          ids,
		CertificationDate: r.CertifiedAt.UTC().Format(time.RFC3339),
		TotalCertified:    r.TotalCertifiedKg.Float64(),
		CertificationType: r.AggregateType(),
		ExpiryDate:        r.ExpiresAt.UTC().Format(time.RFC3339),
		Verification:      r.VerificationCode,
		TotalJars:         r.TotalJars(),
	}
}
