package engine

import (
	"testing"
)

func TestNewCertificationRecord(t *testing.T) {
	// GIVEN a committed session over two batches
	jars := []JarDefinition{
		{SizeGrams: 500, Quantity: 60, Certification: CertOrigin},
		{SizeGrams: 250, Quantity: 40, Certification: CertBoth},
	}
	now := testNow()

	// WHEN the record is emitted
	r := NewCertificationRecord([]BatchID{"b1", "b2"}, jars, Kilograms(40), now)

	// THEN it carries the audit facts and a two-year expiry
	if r.Status != RecordActive {
		t.Errorf("status: expected active, got %s", r.Status)
	}
	if r.ExpiresAt != now.AddDate(2, 0, 0) {
		t.Errorf("expiry: expected +2 years, got %s", r.ExpiresAt)
	}
	if r.VerificationCode == "" || r.ID == "" {
		t.Error("record must have an id and a verification code")
	}
	if r.TotalJars() != 100 {
		t.Errorf("total jars: expected 100, got %d", r.TotalJars())
	}
	if r.JarCounts[CertOrigin] != 60 || r.JarCounts[CertBoth] != 40 {
		t.Errorf("jar counts: %+v", r.JarCounts)
	}
}

func TestRecordAggregateType(t *testing.T) {
	uniform := CertificationRecord{JarCounts: map[CertificationType]int64{CertOrigin: 10}}
	if uniform.AggregateType() != "origin" {
		t.Errorf("uniform record: got %q", uniform.AggregateType())
	}

	mixed := CertificationRecord{JarCounts: map[CertificationType]int64{CertOrigin: 10, CertQuality: 5}}
	if mixed.AggregateType() != "mixed" {
		t.Errorf("mixed record: got %q", mixed.AggregateType())
	}
}

func TestRecordQRPayload(t *testing.T) {
	jars := []JarDefinition{{SizeGrams: 500, Quantity: 20, Certification: CertQuality}}
	r := NewCertificationRecord([]BatchID{"b1"}, jars, Kilograms(10), testNow())

	qr := r.ToQRPayload()
	if qr.Verification != r.VerificationCode {
		t.Error("QR payload must carry the verification code")
	}
	if qr.TotalCertified != 10 {
		t.Errorf("QR total: expected 10, got %v", qr.TotalCertified)
	}
	if qr.CertificationType != "quality" {
		t.Errorf("QR type: expected quality, got %q", qr.CertificationType)
	}
	if qr.TotalJars != 20 {
		t.Errorf("QR jars: expected 20, got %d", qr.TotalJars)
	}
	if len(qr.BatchIDs) != 1 || qr.BatchIDs[0] != "b1" {
		t.Errorf("QR batches: %v", qr.BatchIDs)
	}
}
