// SPDX-License-Identifier: ice License 1.0

package document

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/net/html"
)

const hmrClientScript = `<script type="module">
const socket = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + %q);
socket.addEventListener("message", (event) => {
  const payload = JSON.parse(event.data);
  if (payload.type === "full-reload") location.reload();
});
</script>
`

// HMRClient injects the live reload client right after <head>, or before </body> when there is
// no head, connecting it to hmrPath.
func HMRClient(hmrPath string) Transformer {
	if hmrPath == "" {
		hmrPath = defaultHMRPath
	}
	script := []byte(fmt.Sprintf(hmrClientScript, hmrPath))

	return TransformerFunc(func(_ context.Context, _, _ string, doc []byte) ([]byte, error) {
		at := injectionOffset(doc)
		out := make([]byte, 0, len(doc)+len(script))
		out = append(out, doc[:at]...)
		out = append(out, script...)

		return append(out, doc[at:]...), nil
	})
}

func injectionOffset(doc []byte) int {
	tokenizer := html.NewTokenizer(bytes.NewReader(doc))
	offset, bodyEnd := 0, -1
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		size := len(tokenizer.Raw())
		name, _ := tokenizer.TagName()
		switch {
		case tokenType == html.StartTagToken && string(name) == "head":
			return offset + size
		case tokenType == html.EndTagToken && string(name) == "body" && bodyEnd < 0:
			bodyEnd = offset
		}
		offset += size
	}
	if bodyEnd >= 0 {
		return bodyEnd
	}

	return 0
}
