package bot

import (
	"fmt"
	"strings"

	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
	"github.com/stupiduntilnot/chatgram/internal/persona"
)

const (
	msgGreeting       = "Hello! I'm a chatbot with multiple personalities. Please select a persona to start chatting:"
	msgChoosePersona  = "Please choose a persona:"
	msgNeedPersona    = "Please choose a persona first using /start or the inline keyboard."
	msgInvalidPersona = "Invalid persona. Please choose a valid persona."
	msgAccessDenied   = "Sorry, you don't have access to this persona."
	msgNoActive       = "No active persona found for this chat."
	msgNoPersonas     = "No personas are available to you."
	msgStorageFailure = "Sorry, something went wrong while saving this conversation. Please try again later."

	msgHelp = "Available commands:\n" +
		"/start - Start the bot and select a persona\n" +
		"/persona <persona_name> - Switch to a specific persona\n" +
		"/reset - Reset the chat context for the current persona\n" +
		"/list_personas - List all available personas\n" +
		"/help - Display this help message"

	helpCallback = "help"
)

func msgPersonaSet(name string) string {
	return fmt.Sprintf("Persona set to %s for this chat.", name)
}

func msgPersonaChosen(name string) string {
	return fmt.Sprintf("You've chosen the %s persona. Start chatting!", name)
}

func msgResetDone(name string) string {
	return fmt.Sprintf("Chat context for %s has been reset.", name)
}

func msgNothingToReset(name string) string {
	return fmt.Sprintf("No active chat context found for %s.", name)
}

func personaKeyboard(personas []persona.Persona) [][]cmdpkg.Button {
	rows := make([][]cmdpkg.Button, 0, len(personas)+1)
	for _, p := range personas {
		rows = append(rows, []cmdpkg.Button{{Text: p.Name, CallbackData: p.Name}})
	}
	rows = append(rows, []cmdpkg.Button{{Text: "❓ Help", CallbackData: helpCallback}})
	return rows
}

func personaList(personas []persona.Persona) string {
	if len(personas) == 0 {
		return msgNoPersonas
	}
	var sb strings.Builder
	sb.WriteString("Available personas:")
	for _, p := range personas {
		sb.WriteString("\n- ")
		sb.WriteString(p.Name)
		if p.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(p.Description)
		}
	}
	return sb.String()
}
