package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CurrentSDKAPI is the SDK API version implemented by this host (YYMMDD).
// It changes only when plugin-visible APIs break.
const CurrentSDKAPI = 251212

// Issue codes reported by compatibility checks.
const (
	CodeSDKMissing        = "SDKAPI_MISSING"
	CodeSDKInvalid        = "SDKAPI_INVALID"
	CodeSDKNewer          = "SDKAPI_NEWER"
	CodeEngineInvalid     = "ENGINE_INVALID"
	CodeEngineUnsupported = "ENGINE_UNSUPPORTED"
)

// CheckSDKCompatibility appends issues for the manifest's sdkapi value.
// Unlike older hosts, a missing or legacy sdkapi never disables capability
// enforcement; it only produces a warning.
func CheckSDKCompatibility(m *Manifest, issues *Issues) {
	if m.SDKAPI == nil {
		issues.Add(IssueWarning, CodeSDKMissing, "manifest",
			fmt.Sprintf("plugin %q does not declare sdkapi; add \"sdkapi\": %d", m.Name, CurrentSDKAPI))
		return
	}

	v := *m.SDKAPI
	if !ValidSDKAPI(v) {
		issues.Add(IssueError, CodeSDKInvalid, "manifest",
			fmt.Sprintf("plugin %q has invalid sdkapi %d, expected YYMMDD", m.Name, v))
		return
	}

	if v > CurrentSDKAPI {
		issues.Add(IssueWarning, CodeSDKNewer, "manifest",
			fmt.Sprintf("plugin %q targets sdkapi %d but host implements %d; some features may not work", m.Name, v, CurrentSDKAPI))
	}
}

// ValidSDKAPI reports whether v looks like a YYMMDD date.
func ValidSDKAPI(v int) bool {
	if v < 100101 || v > 991231 {
		return false
	}
	month := (v / 100) % 100
	day := v % 100
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// CheckEngine verifies the manifest's engine constraint against the host
// version. An empty constraint accepts every host.
func CheckEngine(m *Manifest, hostVersion string, issues *Issues) {
	if m.Engine == "" {
		return
	}

	c, err := semver.NewConstraint(m.Engine)
	if err != nil {
		issues.Add(IssueError, CodeEngineInvalid, "manifest",
			fmt.Sprintf("invalid engine constraint %q: %v", m.Engine, err))
		return
	}

	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		issues.Add(IssueError, CodeEngineInvalid, "host",
			fmt.Sprintf("invalid host version %q: %v", hostVersion, err))
		return
	}

	if ok, errs := c.Validate(v); !ok {
		msg := fmt.Sprintf("host %s does not satisfy engine %q", v.Original(), m.Engine)
		if len(errs) > 0 {
			msg = fmt.Sprintf("%s: %v", msg, errs[0])
		}
		issues.Add(IssueError, CodeEngineUnsupported, "manifest", msg)
	}
}
