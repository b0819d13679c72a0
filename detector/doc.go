// Package detector implements the runtime detector entity: a polymorphic
// acquisition unit over the capability set {Scaler, ROI, Continuous} with a
// uniform arm/start/stop lifecycle.
//
// A Detector owns its acquisition state machine
// (Idle -> Configuring -> Armed -> Acquiring -> Disarming -> Idle) and its
// mode, dwelltime and frame configuration. Exactly one owner, the sequencer
// running the scan, may mutate a detector; detectors are never shared across
// concurrent scans.
package detector
