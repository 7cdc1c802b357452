package common

// VersionHeaderSeparator is the separator between the token version identifier
// prefix and token body.
// Tokens are versioned by their backing implemention, which includes details
// such as token structure and authentication scheme.
const VersionHeaderSeparator = "!"
