package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const ttsRequestTimeout = 10 * time.Second

// defaultTTSBaseURL is the free translate text-to-speech endpoint; it needs
// no API key, which suits a classroom deployment.
const defaultTTSBaseURL = "https://translate.google.com/translate_tts"

type ttsClient struct {
	baseURL string
	client  *http.Client
}

func newTTSClient() *ttsClient {
	return &ttsClient{
		baseURL: defaultTTSBaseURL,
		client:  &http.Client{Timeout: ttsRequestTimeout},
	}
}

// fetch downloads spoken audio for text into outputPath. The file is written
// via a temp name so a cancelled fetch never leaves a truncated MP3 behind.
func (c *ttsClient) fetch(ctx context.Context, text, lang, outputPath string) error {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("q", text)
	params.Set("tl", lang)
	params.Set("client", "tw-ob")
	params.Set("textlen", fmt.Sprintf("%d", len(text)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	tmp := outputPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write audio file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, outputPath)
}
