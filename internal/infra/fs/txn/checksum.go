package txn

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

// ChecksumAlgorithm represents the hashing algorithm used
type ChecksumAlgorithm string

const (
	// ChecksumSHA256 is the default checksum algorithm
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
)

// FileChecksum represents a file's checksum information
type FileChecksum struct {
	Algorithm ChecksumAlgorithm `json:"algorithm"`
	Value     string            `json:"value"`
	Size      int64             `json:"size"`
}

// CalculateFileChecksum computes checksum for a file
func CalculateFileChecksum(filePath string, algorithm ChecksumAlgorithm) (*FileChecksum, error) {
	if algorithm != ChecksumSHA256 {
		return nil, fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file for checksum: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return nil, fmt.Errorf("calculate sha256: %w", err)
	}

	return &FileChecksum{
		Algorithm: algorithm,
		Value:     fmt.Sprintf("%x", hash.Sum(nil)),
		Size:      size,
	}, nil
}

// CalculateDataChecksum computes checksum for in-memory data
func CalculateDataChecksum(data []byte, algorithm ChecksumAlgorithm) (*FileChecksum, error) {
	if algorithm != ChecksumSHA256 {
		return nil, fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
	}
	return &FileChecksum{
		Algorithm: algorithm,
		Value:     fmt.Sprintf("%x", sha256.Sum256(data)),
		Size:      int64(len(data)),
	}, nil
}

// ValidateFileChecksum verifies a file against expected checksum
func ValidateFileChecksum(filePath string, expected *FileChecksum) error {
	if expected == nil {
		return fmt.Errorf("no expected checksum provided")
	}

	current, err := CalculateFileChecksum(filePath, expected.Algorithm)
	if err != nil {
		return fmt.Errorf("calculate current checksum: %w", err)
	}

	if !CompareFileChecksums(current, expected) {
		fs.GetLogger().Error("Checksum validation failed %s=%s expected=%s/%d actual=%s/%d",
			MetricChecksumValidationFailed, filePath, expected.Value, expected.Size, current.Value, current.Size)
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", filePath, expected.Value, current.Value)
	}
	return nil
}

// CompareFileChecksums compares two file checksums for equality
func CompareFileChecksums(a, b *FileChecksum) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Algorithm == b.Algorithm &&
		a.Value == b.Value &&
		a.Size == b.Size
}
