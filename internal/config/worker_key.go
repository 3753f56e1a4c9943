package config

// WorkerKeyStruct names the Redis lists the ranking pipeline runs on.
type WorkerKeyStruct struct {
	// RankAttemptsQueue receives one payload per finalized attempt.
	RankAttemptsQueue string
	// RankAttemptsDead keeps payloads the worker could not decode, for inspection.
	RankAttemptsDead string
}

var WorkerKey = &WorkerKeyStruct{
	RankAttemptsQueue: "rank_attempts_queue",
	RankAttemptsDead:  "rank_attempts_dead",
}
