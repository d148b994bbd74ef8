// Package contracts holds the tagged, compile-time dispatch surface for
// the sidecar protocol: method names, event names, and their payload
// schemas. §9's redesign note replaces a runtime string-keyed dict with
// this enum-like table plus a match in the dispatcher — an unknown
// method can never be silently registered.
package contracts

// Method is one of the fixed RPC method names the dispatcher recognizes.
type Method string

// Required methods — every one of these must be implemented and appear
// in RequiredMethods (§4.2).
const (
	MethodSystemPing             Method = "system.ping"
	MethodSystemInfo             Method = "system.info"
	MethodSystemShutdown         Method = "system.shutdown"
	MethodStatusGet              Method = "status.get"
	MethodAudioListDevices       Method = "audio.list_devices"
	MethodAudioSetDevice         Method = "audio.set_device"
	MethodAudioMeterStart        Method = "audio.meter_start"
	MethodAudioMeterStop         Method = "audio.meter_stop"
	MethodRecordingStart         Method = "recording.start"
	MethodRecordingStop          Method = "recording.stop"
	MethodRecordingCancel        Method = "recording.cancel"
	MethodASRInitialize          Method = "asr.initialize"
	MethodModelGetStatus         Method = "model.get_status"
	MethodModelDownload          Method = "model.download"
	MethodModelPurgeCache        Method = "model.purge_cache"
	MethodReplacementsGetRules   Method = "replacements.get_rules"
	MethodReplacementsSetRules   Method = "replacements.set_rules"
	MethodReplacementsGetPresets Method = "replacements.get_presets"
	MethodReplacementsGetPreset  Method = "replacements.get_preset_rules"
	MethodReplacementsPreview    Method = "replacements.preview"
)

// Optional methods — advertised in system.info's capabilities only if
// the running build actually implements them.
const (
	MethodASRStatus        Method = "asr.status"
	MethodAudioMeterStatus Method = "audio.meter_status"
	MethodRecordingStatus  Method = "recording.status"
	MethodModelInstall     Method = "model.install"
)

// RequiredMethods is the full required set. The dispatcher's handler
// table and the self-test probe list are written out separately and do
// not read it.
var RequiredMethods = []Method{
	MethodSystemPing, MethodSystemInfo, MethodSystemShutdown,
	MethodStatusGet,
	MethodAudioListDevices, MethodAudioSetDevice, MethodAudioMeterStart, MethodAudioMeterStop,
	MethodRecordingStart, MethodRecordingStop, MethodRecordingCancel,
	MethodASRInitialize,
	MethodModelGetStatus, MethodModelDownload, MethodModelPurgeCache,
	MethodReplacementsGetRules, MethodReplacementsSetRules, MethodReplacementsGetPresets,
	MethodReplacementsGetPreset, MethodReplacementsPreview,
}

// OptionalMethods lists methods the dispatcher may or may not have
// registered; presence in system.info's capabilities list reflects the
// live registration, not this constant list.
var OptionalMethods = []Method{
	MethodASRStatus, MethodAudioMeterStatus, MethodRecordingStatus, MethodModelInstall,
}

// Event is one of the fixed notification method names emitted by the
// sidecar (§4.2).
type Event string

const (
	EventStatusChanged         Event = "event.status_changed"
	EventAudioLevel            Event = "event.audio_level"
	EventTranscriptionComplete Event = "event.transcription_complete"
	EventTranscriptionError    Event = "event.transcription_error"
	EventModelProgress         Event = "event.model_progress"
)

// ProtocolVersion is reported verbatim in system.info.
const ProtocolVersion = "v1"
