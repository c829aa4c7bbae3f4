package types

// Version is the canonical project version.
// The CLI, the marker format and the notification payload share it
// per the lockstep versioning policy.
const Version = "0.3.0"

// MarkerVersion is the on-disk lock marker format version.
// Bumped independently only when the marker layout changes incompatibly.
const MarkerVersion = 1
