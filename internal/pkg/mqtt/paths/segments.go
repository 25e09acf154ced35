package paths

// Topic segments published under the process root, e.g. process/timelapse_trip/alive.
const (
	// Alive carries the liveness heartbeat.
	// Payload: "True" / "False"
	Alive = "alive"

	// LastStatus carries a free-text description of what the process is doing.
	// Payload: "Waiting for action", "Take picture", "Generate timelapse"
	LastStatus = "last_status"

	// Progress carries the assembly progress of the current session.
	// Payload: integer 0..100
	Progress = "timelapse_process_progress"
)
