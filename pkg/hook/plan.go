package hook

type Plan struct {
	Enabled bool

	PreSyncCommands  []string
	PostSyncCommands []string

	// JobName and RunID are exported to every command as PGL_MIRROR_JOB and
	// PGL_MIRROR_RUN_ID.
	JobName string
	RunID   string

	// Global Flags
	DryRun   bool
	FailFast bool
}
