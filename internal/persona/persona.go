// Package persona holds the canned phrases spoken for each voice personality.
package persona

import "hotmic/internal/domain"

// Phrases is the fixed set of replies for one personality.
type Phrases struct {
	Greeting        string
	ListeningPrompt string
	Acknowledgement string
	Help            string
	ErrorRetry      string
	Goodbye         string
}

var phrases = map[domain.Personality]Phrases{
	domain.PersonalityProfessional: {
		Greeting:        "Voice control is active. How can I assist you?",
		ListeningPrompt: "I am listening.",
		Acknowledgement: "Understood.",
		Help:            "You can say create an app, show templates, start questionnaire, next, back, or stop.",
		ErrorRetry:      "I did not catch that. Please repeat your request.",
		Goodbye:         "Voice control is now inactive.",
	},
	domain.PersonalityFriendly: {
		Greeting:        "Hi there! What would you like to build today?",
		ListeningPrompt: "I'm listening, go ahead.",
		Acknowledgement: "Got it!",
		Help:            "Try saying create an app, show templates, start the questionnaire, next, back, or stop.",
		ErrorRetry:      "Sorry, I missed that. Could you say it again?",
		Goodbye:         "Talk to you later!",
	},
	domain.PersonalityEnthusiastic: {
		Greeting:        "Hey! I'm ready, let's build something amazing!",
		ListeningPrompt: "I'm all ears!",
		Acknowledgement: "Awesome, on it!",
		Help:            "Say create an app, show templates, start the questionnaire, next, back, or stop and let's go!",
		ErrorRetry:      "Oops, I didn't quite get that. One more time?",
		Goodbye:         "That was fun, see you soon!",
	},
}

// For returns the phrase set for p, falling back to the friendly set.
func For(p domain.Personality) Phrases {
	if set, ok := phrases[p]; ok {
		return set
	}
	return phrases[domain.PersonalityFriendly]
}
