package meshberry

// Version is the module's semantic version, bumped by hand at release time.
const Version = "0.1.0"

// ProtocolVersion identifies the wire-compatible generation of the
// coordinator and mesh protocols. Sessions only interoperate within the
// same ProtocolVersion.
const ProtocolVersion = 1
