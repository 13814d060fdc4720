package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Path: "/callback",
		},
		LINE: LINEConfig{
			ChannelSecret:      "${LINE_CHANNEL_SECRET}",
			ChannelAccessToken: "${LINE_CHANNEL_ACCESS_TOKEN}",
		},
		OpenAI: OpenAIConfig{
			APIKey:     "${OPENAI_API_KEY}",
			APIBase:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			ImageModel: "dall-e-3",
			ImageSize:  "1024x1024",
		},
		Vision: VisionConfig{
			APIKey:  "${GOOGLE_VISION_API_KEY}",
			APIBase: "https://vision.googleapis.com/v1",
		},
		History: HistoryConfig{
			Driver: "sqlite",
			DSN:    "~/.linechat/history.db",
			Table:  "conversation_turns",
		},
		Assistant: AssistantConfig{
			Persona:      defaultPersona,
			FallbackText: "ごめんなさい、うまくお返事できませんでした。もう一度送ってみてください。",
			WorkingText:  "写真を撮っています。少し待っていてね…",
			DoneText:     "撮れました！",
		},
		Pipeline: PipelineConfig{
			SerializePerSender: true,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

const defaultPersona = `あなたはLINEで会話する親しみやすいアシスタントです。
- 返事は短く、やさしい話し言葉で書いてください。
- わからないことは正直にわからないと伝えてください。
- 絵文字は控えめに使ってください。`
