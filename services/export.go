package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"rag-chatbot-platform/models"
)

const (
	conversationSheet = "Conversations"
	summarySheet      = "Summary"
	exportTimeLayout  = "2006-01-02 15:04:05"
)

// ExportConversationsXLSX renders logged conversations as a workbook with a
// data sheet and a summary sheet.
func ExportConversationsXLSX(chatbotName string, convs []models.Conversation) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(conversationSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	headers := []interface{}{"Timestamp", "Session ID", "User Message", "Bot Response"}
	if err := f.SetSheetRow(conversationSheet, "A1", &headers); err != nil {
		return nil, err
	}

	sessions := make(map[string]struct{})
	for i, c := range convs {
		row := []interface{}{c.Timestamp.UTC().Format(exportTimeLayout), c.SessionID, c.UserMessage, c.BotResponse}
		if err := f.SetSheetRow(conversationSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
		sessions[c.SessionID] = struct{}{}
	}

	for col, width := range map[string]float64{"A": 20, "B": 24, "C": 60, "D": 80} {
		if err := f.SetColWidth(conversationSheet, col, col, width); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Chatbot", chatbotName},
		{"Export Date", time.Now().UTC().Format(exportTimeLayout)},
		{"Total Messages", len(convs)},
		{"Unique Sessions", len(sessions)},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}
