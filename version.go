package sandbox

// Version is the host version manifests' engine constraints are checked
// against.
const Version = "0.4.0"
