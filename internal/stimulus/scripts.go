package stimulus

import (
	"encoding/json"
	"math"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

// evalEnvelope is the shape every page script returns, serialized with JSON.stringify.
type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// videoState describes the active <video> element. Duration is null until metadata loads.
type videoState struct {
	Present     bool     `json:"present"`
	Duration    *float64 `json:"duration"`
	CurrentTime float64  `json:"current_time"`
	Paused      bool     `json:"paused"`
	Ended       bool     `json:"ended"`
}

func (s videoState) nominal() behavior.Nominal {
	if !s.Present || s.Duration == nil {
		return behavior.Unavailable
	}
	d := *s.Duration
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return behavior.Unavailable
	}
	return behavior.Known(d)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return types.NewError(types.CodeStimulus, "invalid evaluation envelope", err)
	}
	if !env.OK {
		msg := env.ErrorMessage
		if env.ErrorCode != "" {
			msg = env.ErrorCode + ": " + msg
		}
		return types.NewError(types.CodeStimulus, msg, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return types.NewError(types.CodeStimulus, "invalid evaluation data", err)
	}
	return nil
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

const jsFindVideo = `
var v = document.querySelector('ytd-reel-video-renderer[is-active] video') || document.querySelector('video');
function state(v) {
  if (!v) return {present:false, duration:null, current_time:0, paused:true, ended:false};
  var d = v.duration;
  return {present:true, duration:(isFinite(d) && d > 0) ? d : null, current_time:v.currentTime||0, paused:v.paused, ended:v.ended};
}
`

// consentLabels are matched case-insensitively against button text on the consent banner.
var consentLabels = []string{"aceitar tudo", "aceitar", "accept all", "accept"}

func jsAcceptConsent() string {
	return wrapJSEval(`
var labels = ` + jsJSON(consentLabels) + `;
var buttons = Array.from(document.querySelectorAll('button, tp-yt-paper-button'));
for (var i = 0; i < labels.length; i++) {
  for (var j = 0; j < buttons.length; j++) {
    var text = (buttons[j].innerText || buttons[j].textContent || '').trim().toLowerCase();
    if (text.indexOf(labels[i]) !== -1) {
      buttons[j].click();
      return JSON.stringify({ok:true, data:{clicked:true, label:text}});
    }
  }
}
return JSON.stringify({ok:true, data:{clicked:false}});
`)
}

func jsVideoState() string {
	return wrapJSEval(jsFindVideo + `
return JSON.stringify({ok:true, data:state(v)});
`)
}

func jsEnsurePlaying() string {
	return wrapJSEvalAsync(jsFindVideo + `
if (v) {
  v.muted = true;
  if (v.paused) { try { await v.play(); } catch (_) {} }
}
return JSON.stringify({ok:true, data:state(v)});
`)
}
