package transcript

// snapshotSchema describes the on-disk JSON snapshot: user id to an array of
// {role, content} objects.
const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "array",
    "items": {
      "type": "object",
      "required": ["role", "content"],
      "properties": {
        "role": {"enum": ["user", "assistant"]},
        "content": {"type": "string"}
      },
      "additionalProperties": false
    }
  }
}`
