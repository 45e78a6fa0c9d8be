package taskforge

// Version is the version of the taskforge pipeline. Overridden at build time
// using ldflags.
var Version = "0.0.0-dev"

// SpecVersion identifies the task-record schema version this build produces,
// so exported datasets can be traced back to the pipeline revision that
// generated them.
var SpecVersion = "1.0.0"
