// voiceclient drives a session over the text utterance ingress. It
// fills the form with a few canned phrases and submits, printing the
// tracked form state along the way.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const baseURL = "http://localhost:8080"

type utterance struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

func main() {
	session := struct {
		ID string `json:"id"`
	}{}
	post("/v1/sessions", nil, &session)
	log.Printf("created session %s", session.ID)

	post("/v1/sessions/"+session.ID+"/start", nil, nil)
	log.Println("session listening")

	phrases := []string{
		"my name is Jane Doe",
		"my email is jane.doe@example.com",
		"you can reach me at 555-123-4567",
		"i live at 42 Elm Street, Springfield",
		"please submit the form",
	}

	for _, phrase := range phrases {
		log.Printf("saying: %q", phrase)
		post("/v1/sessions/"+session.ID+"/utterances", utterance{Text: phrase, IsFinal: true}, nil)
		time.Sleep(300 * time.Millisecond)

		var form json.RawMessage
		get("/v1/form", &form)
		log.Printf("form: %s", form)
	}

	post("/v1/sessions/"+session.ID+"/stop", nil, nil)
	log.Println("session stopped")

	// Second pass over the audio ingress: with the mock recognizer each
	// chunk advances its script, so enough chunks walk through the whole
	// canned conversation.
	audioSession := struct {
		ID string `json:"id"`
	}{}
	post("/v1/sessions", nil, &audioSession)
	post("/v1/sessions/"+audioSession.ID+"/start", nil, nil)
	log.Printf("audio session %s listening", audioSession.ID)

	chunk := bytes.Repeat([]byte{0x00}, 320)
	for i := 0; i < 20; i++ {
		postRaw("/v1/sessions/"+audioSession.ID+"/audio", chunk)
		time.Sleep(100 * time.Millisecond)
	}

	var form json.RawMessage
	get("/v1/form", &form)
	log.Printf("form after audio: %s", form)

	post("/v1/sessions/"+audioSession.ID+"/stop", nil, nil)
	log.Println("audio session stopped")
}

func postRaw(path string, body []byte) {
	resp, err := http.Post(baseURL+path, "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s: %s %s", path, resp.Status, payload)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func post(path string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("encode request: %v", err)
		}
	}
	resp, err := http.Post(baseURL+path, "application/json", &buf)
	if err != nil {
		log.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s: %s %s", path, resp.Status, payload)
	}
	decode(resp.Body, out, fmt.Sprintf("POST %s", path))
}

func get(path string, out any) {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		log.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	decode(resp.Body, out, fmt.Sprintf("GET %s", path))
}

func decode(r io.Reader, out any, what string) {
	if out == nil {
		_, _ = io.Copy(io.Discard, r)
		return
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		log.Fatalf("%s: decode response: %v", what, err)
	}
}
