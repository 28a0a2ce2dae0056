package meta

// VersionSHA is a build-time injected variable describing the Git commit SHA at which jobstatsd
// was built. It is reported by the version command and attached to error reports as the release.
var VersionSHA string
