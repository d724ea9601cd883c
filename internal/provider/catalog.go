package provider

// Static fallback catalogs. They are used when a provider is unavailable or
// its live catalog cannot be fetched.

var openAIVoices = []Voice{
	{ID: "alloy", Name: "Alloy", Provider: OpenAI, Gender: "male", Category: "standard", Description: "Neutral and balanced"},
	{ID: "echo", Name: "Echo", Provider: OpenAI, Gender: "male", Category: "standard", Description: "Warm and clear"},
	{ID: "fable", Name: "Fable", Provider: OpenAI, Gender: "male", Category: "standard", Description: "Expressive storyteller"},
	{ID: "onyx", Name: "Onyx", Provider: OpenAI, Gender: "male", Category: "standard", Description: "Deep and authoritative"},
	{ID: "nova", Name: "Nova", Provider: OpenAI, Gender: "female", Category: "standard", Description: "Friendly and upbeat"},
	{ID: "shimmer", Name: "Shimmer", Provider: OpenAI, Gender: "female", Category: "standard", Description: "Soft and gentle"},
}

var elevenLabsVoices = []Voice{
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Provider: ElevenLabs, Language: "en", Gender: "female", Category: "premade"},
	{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Provider: ElevenLabs, Language: "en", Gender: "female", Category: "premade"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella", Provider: ElevenLabs, Language: "en", Gender: "female", Category: "premade"},
	{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Provider: ElevenLabs, Language: "en", Gender: "male", Category: "premade"},
	{ID: "MF3mGyEYCl7XYWbV9V6O", Name: "Elli", Provider: ElevenLabs, Language: "en", Gender: "female", Category: "premade"},
	{ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh", Provider: ElevenLabs, Language: "en", Gender: "male", Category: "premade"},
	{ID: "VR6AewLTigWG4xSOukaG", Name: "Arnold", Provider: ElevenLabs, Language: "en", Gender: "male", Category: "premade"},
	{ID: "pNInz6obpgDQGcFmaJgB", Name: "Adam", Provider: ElevenLabs, Language: "en", Gender: "male", Category: "premade"},
	{ID: "yoZ06aMxZJJ28mfd3POQ", Name: "Sam", Provider: ElevenLabs, Language: "en", Gender: "male", Category: "premade"},
}

var speechifyVoices = []Voice{
	{ID: "henry", Name: "Henry", Provider: Speechify, Language: "en-US", Gender: "male", Category: "shared"},
	{ID: "mia", Name: "Mia", Provider: Speechify, Language: "en-US", Gender: "female", Category: "shared"},
	{ID: "george", Name: "George", Provider: Speechify, Language: "en-GB", Gender: "male", Category: "shared"},
	{ID: "jessica", Name: "Jessica", Provider: Speechify, Language: "en-US", Gender: "female", Category: "shared"},
	{ID: "snoop", Name: "Snoop", Provider: Speechify, Language: "en-US", Gender: "male", Category: "shared"},
}

var googleFallbackVoices = []Voice{
	{ID: "en", Name: "English", Provider: Google, Language: "en", Gender: "neutral", Category: "standard", Description: "Google TTS - English"},
	{ID: "de", Name: "German", Provider: Google, Language: "de", Gender: "neutral", Category: "standard", Description: "Google TTS - German"},
}

// googleLanguages is the live catalog for the keyless translate endpoint.
var googleLanguages = map[string]string{
	"en": "English", "de": "German", "fr": "French", "es": "Spanish", "it": "Italian",
	"pt": "Portuguese", "nl": "Dutch", "pl": "Polish", "sv": "Swedish", "da": "Danish",
	"fi": "Finnish", "no": "Norwegian", "tr": "Turkish", "ru": "Russian", "uk": "Ukrainian",
	"ja": "Japanese", "ko": "Korean", "zh-CN": "Chinese (Simplified)", "hi": "Hindi", "ar": "Arabic",
}

var mockVoices = []Voice{
	{ID: "mock-host", Name: "Mock Host", Provider: Mock, Language: "en", Gender: "male", Category: "mock"},
	{ID: "mock-guest", Name: "Mock Guest", Provider: Mock, Language: "en", Gender: "female", Category: "mock"},
}
