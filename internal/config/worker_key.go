package config

type WorkerKeyStruct struct {
	CompletionRetryQueue  string
	RecoverySnapshotQueue string
}

var WorkerKey = &WorkerKeyStruct{
	CompletionRetryQueue:  "completion_retry_queue",
	RecoverySnapshotQueue: "recovery_snapshot_queue",
}
