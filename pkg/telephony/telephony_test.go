package telephony

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"testing"
)

func TestParseStatusCallback(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "42")
	form.Set("RecordingUrl", "https://api.example.com/rec/1")

	cb, err := ParseStatusCallback(form)
	if err != nil {
		t.Fatalf("ParseStatusCallback: %v", err)
	}
	if cb.ProviderCallID != "CA123" || cb.CallStatus != "completed" {
		t.Fatalf("unexpected callback: %+v", cb)
	}
	if cb.DurationSecs == nil || *cb.DurationSecs != 42 {
		t.Fatalf("duration = %v", cb.DurationSecs)
	}
	if cb.RecordingURL == nil || *cb.RecordingURL != "https://api.example.com/rec/1" {
		t.Fatalf("recording = %v", cb.RecordingURL)
	}
}

func TestParseStatusCallbackMetadata(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "no-answer")
	form.Set("AnsweredBy", "machine_start")
	form.Set("SipResponseCode", "487")

	cb, err := ParseStatusCallback(form)
	if err != nil {
		t.Fatalf("ParseStatusCallback: %v", err)
	}
	if cb.Metadata["answered_by"] != "machine_start" || cb.Metadata["sip_response_code"] != "487" {
		t.Fatalf("metadata = %v", cb.Metadata)
	}
	if _, ok := cb.Metadata["error_code"]; ok {
		t.Fatalf("absent fields should not appear: %v", cb.Metadata)
	}
}

func TestParseStatusCallbackMissingSid(t *testing.T) {
	if _, err := ParseStatusCallback(url.Values{}); err == nil {
		t.Fatal("missing CallSid should fail")
	}
}

func TestParseStatusCallbackOptionalFields(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("CallStatus", "ringing")
	form.Set("CallDuration", "not-a-number")

	cb, err := ParseStatusCallback(form)
	if err != nil {
		t.Fatalf("ParseStatusCallback: %v", err)
	}
	if cb.DurationSecs != nil || cb.RecordingURL != nil {
		t.Fatalf("optional fields should stay nil: %+v", cb)
	}
}

func TestParseGatherResult(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA9")
	form.Set("SpeechResult", "I feel fine today")
	form.Set("Confidence", "0.87")

	res, err := ParseGatherResult(form)
	if err != nil {
		t.Fatalf("ParseGatherResult: %v", err)
	}
	if res.SpeechResult != "I feel fine today" {
		t.Fatalf("speech = %q", res.SpeechResult)
	}
	if res.Confidence == nil || *res.Confidence != 0.87 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
}

func TestParseStreamMessageStart(t *testing.T) {
	raw := `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"customParameters":{"call_id":"c-42"}}}`
	msg, err := ParseStreamMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseStreamMessage: %v", err)
	}
	if msg.Event != "start" || msg.Start == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Start.StreamSID != "MZ1" || msg.Start.CustomParams["call_id"] != "c-42" {
		t.Fatalf("start section: %+v", msg.Start)
	}
}

func TestParseStreamMessageMedia(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	raw := `{"event":"media","media":{"payload":"` + base64.StdEncoding.EncodeToString(audio) + `"}}`
	msg, err := ParseStreamMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseStreamMessage: %v", err)
	}
	if !bytes.Equal(msg.AudioPayload(), audio) {
		t.Fatalf("payload = %v", msg.AudioPayload())
	}
}

func TestAudioPayloadNonMedia(t *testing.T) {
	msg := &StreamMessage{Event: "stop"}
	if msg.AudioPayload() != nil {
		t.Fatal("non-media message should have nil payload")
	}
}

func TestParseStreamMessageMalformed(t *testing.T) {
	if _, err := ParseStreamMessage([]byte("{nope")); err == nil {
		t.Fatal("malformed frame should fail")
	}
}

func TestEncodeMediaMessage(t *testing.T) {
	audio := []byte("ulaw-bytes")
	data, err := EncodeMediaMessage("MZ7", audio)
	if err != nil {
		t.Fatalf("EncodeMediaMessage: %v", err)
	}
	var decoded struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event != "media" || decoded.StreamSID != "MZ7" {
		t.Fatalf("frame = %+v", decoded)
	}
	got, _ := base64.StdEncoding.DecodeString(decoded.Media.Payload)
	if !bytes.Equal(got, audio) {
		t.Fatalf("payload round-trip failed: %v", got)
	}
}

func TestEncodeClearMessage(t *testing.T) {
	data, err := EncodeClearMessage("MZ7")
	if err != nil {
		t.Fatalf("EncodeClearMessage: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["event"] != "clear" || decoded["streamSid"] != "MZ7" {
		t.Fatalf("frame = %v", decoded)
	}
}
