package txn

// Metric keys used in log messages
const (
	MetricCommitSuccess    = "txn.commit.success"
	MetricCommitFailed     = "txn.commit.failed"
	MetricCommitIdempotent = "txn.commit.idempotent"

	MetricRollbackSuccess = "txn.rollback.success"
	MetricRollbackFailed  = "txn.rollback.failed"

	MetricRecoverForwardCount   = "txn.recover.forward.count"
	MetricRecoverForwardSuccess = "txn.recover.forward.success"
	MetricRecoverForwardFailed  = "txn.recover.forward.failed"

	MetricScanTotal = "txn.scan.total"

	MetricCleanupSuccess = "txn.cleanup.success"
	MetricCleanupFailed  = "txn.cleanup.failed"

	MetricStageSuccess = "txn.stage.success"
	MetricStageEXDEV   = "txn.stage.exdev_detected"

	MetricChecksumValidationFailed = "txn.checksum.validation.failed"

	MetricCommitDurationMs  = "txn.commit.duration_ms"
	MetricRecoverDurationMs = "txn.recover.duration_ms"
)
