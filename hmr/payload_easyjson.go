// SPDX-License-Identifier: ice License 1.0

package hmr

import (
	jlexer "github.com/mailru/easyjson/jlexer"
	jwriter "github.com/mailru/easyjson/jwriter"
)

func payloadUnmarshalEasyJSON(in *jlexer.Lexer, out *Payload) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "type":
			out.Type = string(in.String())
		case "path":
			out.Path = string(in.String())
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

func payloadMarshalEasyJSON(out *jwriter.Writer, in Payload) {
	out.RawByte('{')
	{
		const prefix string = ",\"type\":"
		out.RawString(prefix[1:])
		out.String(string(in.Type))
	}
	if in.Path != "" {
		const prefix string = ",\"path\":"
		out.RawString(prefix)
		out.String(string(in.Path))
	}
	out.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface.
func (v Payload) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	payloadMarshalEasyJSON(&w, v)
	return w.Buffer.BuildBytes(), w.Error
}

// UnmarshalJSON supports json.Unmarshaler interface.
func (v *Payload) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	payloadUnmarshalEasyJSON(&r, v)
	return r.Error()
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (v *Payload) UnmarshalEasyJSON(l *jlexer.Lexer) {
	payloadUnmarshalEasyJSON(l, v)
}

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (v Payload) MarshalEasyJSON(w *jwriter.Writer) {
	payloadMarshalEasyJSON(w, v)
}
