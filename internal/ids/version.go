package ids

// ChainedVersion tags an installed view model. The epoch changes when the
// model is rebuilt from scratch; the version advances within an epoch.
// Values are opaque strings compared only for equality.
type ChainedVersion struct {
	Epoch   string
	Version string
}

// NewChainedVersion builds a version tag.
func NewChainedVersion(epoch, version string) ChainedVersion {
	return ChainedVersion{Epoch: epoch, Version: version}
}

// IsZero reports whether no version has been assigned.
func (v ChainedVersion) IsZero() bool {
	return v.Epoch == "" && v.Version == ""
}

func (v ChainedVersion) String() string {
	return v.Epoch + "." + v.Version
}
